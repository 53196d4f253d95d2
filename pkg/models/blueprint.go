package models

// PhaseFileInfo names one file a phase plans to produce.
type PhaseFileInfo struct {
	Path    string `json:"path"`
	Purpose string `json:"purpose,omitempty"`
}

// PhaseConcept is a planned unit of app generation work.
type PhaseConcept struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Files       []PhaseFileInfo `json:"files,omitempty"`
	LastPhase   bool            `json:"lastPhase,omitempty"`
}

// Clone returns a deep copy.
func (p PhaseConcept) Clone() PhaseConcept {
	out := p
	if p.Files != nil {
		out.Files = append([]PhaseFileInfo(nil), p.Files...)
	}
	return out
}

// PhaseRecord is a phase with its completion flag. A phase interrupted by
// cancellation keeps Completed=false; resume continues from the first
// non-completed phase.
type PhaseRecord struct {
	PhaseConcept
	Completed bool `json:"completed"`
}

// Clone returns a deep copy.
func (p PhaseRecord) Clone() PhaseRecord {
	return PhaseRecord{PhaseConcept: p.PhaseConcept.Clone(), Completed: p.Completed}
}

// Blueprint is the structured project plan produced before implementation.
type Blueprint struct {
	Title        string         `json:"title"`
	Description  string         `json:"description,omitempty"`
	Frameworks   []string       `json:"frameworks,omitempty"`
	InitialPhase *PhaseConcept  `json:"initialPhase,omitempty"`
	Phases       []PhaseConcept `json:"phases,omitempty"`
}

// Clone returns a deep copy.
func (b Blueprint) Clone() Blueprint {
	out := b
	if b.Frameworks != nil {
		out.Frameworks = append([]string(nil), b.Frameworks...)
	}
	if b.InitialPhase != nil {
		ip := b.InitialPhase.Clone()
		out.InitialPhase = &ip
	}
	if b.Phases != nil {
		out.Phases = make([]PhaseConcept, len(b.Phases))
		for i, p := range b.Phases {
			out.Phases[i] = p.Clone()
		}
	}
	return out
}
