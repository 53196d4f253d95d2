package models

// FileRecord is one generated file in the session's file map.
// Every path in the map exists as a committed blob in the version-control
// store after the next successful file-manager save.
type FileRecord struct {
	FilePath     string `json:"filePath"`
	FileContents string `json:"fileContents"`
	FilePurpose  string `json:"filePurpose,omitempty"`
	LastDiff     string `json:"lastDiff,omitempty"`
}
