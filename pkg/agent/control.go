package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/AshishKumar4/vibesdk-ashish/pkg/cancellation"
	"github.com/AshishKumar4/vibesdk-ashish/pkg/events"
	"github.com/AshishKumar4/vibesdk-ashish/pkg/models"
)

// controlFrame is the inbound websocket message envelope. Fields beyond Type
// are frame-specific and ignored by frames that do not use them.
type controlFrame struct {
	Type          string                   `json:"type"`
	Message       string                   `json:"message,omitempty"`
	Images        []models.ImageAttachment `json:"images,omitempty"`
	ForceRedeploy bool                     `json:"forceRedeploy,omitempty"`
}

// HandleControlFrame processes one inbound frame from a websocket channel.
// Failures are reported to the originating channel only; they never propagate
// to the caller or other channels.
func (s *Session) HandleControlFrame(ctx context.Context, channelID string, raw []byte) {
	var frame controlFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		s.bus.SendError(channelID, "malformed control frame: "+err.Error())
		return
	}
	s.log.Info("Control frame received", "frame_type", frame.Type, "channel_id", channelID)

	var err error
	switch frame.Type {
	case "generate_all":
		s.handleGenerateAll(ctx)
	case "preview":
		err = s.handlePreview(ctx, frame.ForceRedeploy)
	case "deploy":
		err = s.handleCloudDeploy(ctx)
	case "capture_screenshot":
		err = s.requireApp("capture_screenshot", func() error {
			s.bus.Broadcast(events.TypePreviewForceRefresh, map[string]string{})
			return nil
		})
	case "stop_generation":
		s.handleStopGeneration(ctx)
	case "resume_generation":
		err = s.requireApp("resume_generation", func() error {
			s.handleGenerateAll(ctx)
			s.bus.Broadcast(events.TypeGenerationResumed, map[string]string{})
			return nil
		})
	case "user_suggestion":
		err = s.requireApp("user_suggestion", func() error {
			return s.handleUserSuggestion(ctx, frame)
		})
	case "clear_conversation":
		s.handleClearConversation(ctx)
	case "get_conversation_state":
		s.handleGetConversationState(ctx, channelID)
	case "get_model_configs":
		err = s.requireApp("get_model_configs", func() error {
			s.bus.SendTo(channelID, events.TypeModelConfigsInfo, map[string]string{
				"model": s.model,
			})
			return nil
		})
	case "github_export":
		err = fmt.Errorf("github_export over websocket is no longer supported; use the export API")
	default:
		err = fmt.Errorf("unknown control frame type %q", frame.Type)
	}
	if err != nil {
		s.bus.SendError(channelID, err.Error())
	}
}

// requireApp rejects app-only frames on workflow sessions.
func (s *Session) requireApp(frameType string, fn func() error) error {
	if s.state.Get().App == nil {
		return fmt.Errorf("%s is only available for app sessions", frameType)
	}
	return fn()
}

func (s *Session) handleGenerateAll(ctx context.Context) {
	s.state.Update(ctx, func(st *models.SessionState) {
		st.ShouldBeGenerating = true
	})
	if s.Generating() {
		return
	}
	s.StartGeneration()
}

func (s *Session) handlePreview(ctx context.Context, forceRedeploy bool) error {
	if err := s.plugins.beforeDeployment(ctx, s); err != nil {
		s.log.Warn("beforeDeployment hooks reported errors", "error", err)
	}
	result, err := s.deploy.DeployToSandbox(ctx, forceRedeploy)
	if err != nil {
		return err
	}
	if err := s.plugins.afterDeployment(ctx, s, result.PreviewURL); err != nil {
		s.log.Warn("afterDeployment hooks reported errors", "error", err)
	}
	return nil
}

func (s *Session) handleCloudDeploy(ctx context.Context) error {
	_, err := s.deploy.DeployToCloudflare(ctx)
	return err
}

func (s *Session) handleStopGeneration(ctx context.Context) {
	s.cancels.Cancel(cancellation.ScopeGeneration)
	s.state.Update(ctx, func(st *models.SessionState) {
		if st.App != nil {
			st.ShouldBeGenerating = false
		}
	})
	s.bus.Broadcast(events.TypeGenerationStopped, map[string]string{})
}

// handleUserSuggestion validates attachments and queues the suggestion for the
// next phase boundary. The message is recorded in the conversation right away.
func (s *Session) handleUserSuggestion(ctx context.Context, frame controlFrame) error {
	if frame.Message == "" {
		return fmt.Errorf("user_suggestion requires a message")
	}
	if len(frame.Images) > models.MaxImagesPerMessage {
		return fmt.Errorf("at most %d images per message, got %d",
			models.MaxImagesPerMessage, len(frame.Images))
	}
	for _, img := range frame.Images {
		if len(img.Data) > models.MaxImageSizeBytes {
			return fmt.Errorf("image %s exceeds the %d byte limit", img.Filename, models.MaxImageSizeBytes)
		}
	}

	s.addConversationMessage(ctx, models.RoleUser, frame.Message)
	s.state.Update(ctx, func(st *models.SessionState) {
		st.PendingUserInputs = append(st.PendingUserInputs, models.UserInput{
			Text:   frame.Message,
			Images: frame.Images,
		})
	})
	return nil
}

func (s *Session) handleClearConversation(ctx context.Context) {
	s.conv.ClearCompact(ctx)
	s.state.Update(ctx, func(st *models.SessionState) {
		st.Conversation = nil
	})
	s.bus.Broadcast(events.TypeConversationCleared, map[string]string{})
}

func (s *Session) handleGetConversationState(ctx context.Context, channelID string) {
	snap := s.state.Get()
	convState := s.conv.GetState(ctx, snap.Conversation)
	s.bus.SendTo(channelID, events.TypeConversationState, map[string]any{
		"running":                 convState.Running,
		"full":                    convState.Full,
		"lastDeepDebugTranscript": snap.LastDeepDebugTranscript,
	})
}
