// Package models defines the shared data structures for the intake bot.
//
// It contains the consultation record persisted after an intake conversation,
// the structured results returned by the AI analysis adapters, and the wire
// shapes used by the WhatsApp webhook and the chat widget.
package models

import "time"

// Speaker identifies who produced a transcript entry.
type Speaker string

const (
	SpeakerSystem Speaker = "system"
	SpeakerUser   Speaker = "user"
)

// TranscriptEntry is one message in a conversation transcript.
type TranscriptEntry struct {
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
}

// LogEntry records which step a user response belonged to. The ordered list of
// these entries is persisted on the consultation as the conversation log.
type LogEntry struct {
	Step     string `json:"step"`
	Response string `json:"response"`
}

// ImageAnalysis is the structured result of the image analysis adapter.
// The adapter always returns a value of this shape; on failure the fields carry
// the degraded fallback content.
type ImageAnalysis struct {
	Condition       string   `json:"condition"`
	Severity        string   `json:"severity"`
	Recommendations []string `json:"recommendations"`
	Disclaimer      string   `json:"disclaimer"`
}

// SymptomAnalysis is the structured result of the symptom text analysis adapter.
type SymptomAnalysis struct {
	PotentialConditions []string `json:"potentialConditions"`
	Severity            string   `json:"severity"`
	Urgency             string   `json:"urgency"`
	Recommendation      string   `json:"recommendation"`
	NextSteps           []string `json:"nextSteps"`
	Disclaimer          string   `json:"disclaimer"`
}

// Consultation is the persisted record of one intake conversation.
type Consultation struct {
	ID                 int64            `json:"id"`
	SessionID          string           `json:"sessionId,omitempty"`
	Name               string           `json:"name"`
	Phone              string           `json:"phone"`
	Email              string           `json:"email"`
	PreferredClinic    string           `json:"preferredClinic,omitempty"`
	IssueCategory      string           `json:"issueCategory"`
	IssueSpecifics     string           `json:"issueSpecifics,omitempty"`
	PainDuration       string           `json:"painDuration,omitempty"`
	PainSeverity       string           `json:"painSeverity,omitempty"`
	AdditionalInfo     string           `json:"additionalInfo,omitempty"`
	PreviousTreatment  string           `json:"previousTreatment,omitempty"`
	HasImage           string           `json:"hasImage,omitempty"`
	ImageAnalysis      *ImageAnalysis   `json:"imageAnalysis,omitempty"`
	SymptomDescription string           `json:"symptomDescription,omitempty"`
	SymptomAnalysis    *SymptomAnalysis `json:"symptomAnalysis,omitempty"`
	ConversationLog    []LogEntry       `json:"conversationLog,omitempty"`
	CreatedAt          time.Time        `json:"createdAt"`
}

// WidgetConfig is the embed configuration served to the chat widget. It is read
// once when the widget mounts and is not re-read mid-conversation.
type WidgetConfig struct {
	BotName          string `json:"botName"`
	ClinicLocation   string `json:"clinicLocation"`
	AllowImageUpload bool   `json:"allowImageUpload"`
	ThemeColor       string `json:"themeColor"`
	Position         string `json:"position"`
}

// InboundMessage is a normalized incoming WhatsApp message.
type InboundMessage struct {
	From      string `json:"from"`
	Text      string `json:"text"`
	MessageID string `json:"messageId,omitempty"`
}

// OutboundMessage is a normalized outgoing WhatsApp message.
type OutboundMessage struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

// WebhookEnvelope mirrors the Meta Cloud API webhook payload for inbound
// messages. Only the fields the bot reads are declared.
type WebhookEnvelope struct {
	Object string `json:"object"`
	Entry  []struct {
		Changes []struct {
			Value struct {
				Metadata struct {
					PhoneNumberID string `json:"phone_number_id"`
				} `json:"metadata"`
				Messages []struct {
					ID   string `json:"id"`
					From string `json:"from"`
					Text struct {
						Body string `json:"body"`
					} `json:"text"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// API Response types for consistent JSON responses

// APIStatus is the status string of an API response envelope.
type APIStatus string

const (
	APIStatusOK    APIStatus = "ok"
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}

// Messages flattens the webhook envelope into normalized inbound messages.
func (e *WebhookEnvelope) Messages() []InboundMessage {
	var out []InboundMessage
	for _, entry := range e.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				out = append(out, InboundMessage{
					From:      msg.From,
					Text:      msg.Text.Body,
					MessageID: msg.ID,
				})
			}
		}
	}
	return out
}
