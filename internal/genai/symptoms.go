package genai

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/footcare-clinic/intakebot/internal/models"
	"github.com/openai/openai-go"
)

const symptomSystemPrompt = `You are a foot care triage assistant specializing in podiatry. Analyze the patient's symptoms and provide:

1. List of 1-3 potential conditions based on the symptoms (most likely first)
2. Apparent severity (mild, moderate, severe)
3. Urgency level (routine, soon, urgent)
4. A brief recommendation
5. 2-3 specific next steps the patient should take

Format your response as JSON with these fields:
- potentialConditions: string[] (array of condition names)
- severity: string (mild, moderate, or severe)
- urgency: string (routine, soon, urgent)
- recommendation: string (brief recommendation)
- nextSteps: string[] (array of next steps)

Be factual and avoid speculating beyond the symptoms provided. If the information is insufficient for a confident assessment, state that more information is needed.`

// FallbackSymptomAnalysis is returned whenever the symptom analysis cannot be
// completed.
func FallbackSymptomAnalysis() models.SymptomAnalysis {
	return models.SymptomAnalysis{
		PotentialConditions: []string{"Unable to analyze symptoms at this time"},
		Severity:            "unknown",
		Urgency:             "unknown",
		Recommendation:      "Please continue the consultation and visit the clinic for a thorough assessment",
		NextSteps: []string{
			"Provide detailed symptom information",
			"Book an appointment with a specialist",
			"Avoid self-diagnosis",
		},
		Disclaimer: "This is a fallback response due to an API issue. Please visit the clinic for proper assessment.",
	}
}

// AnalyzeSymptoms runs the triage analysis over a free-text symptom
// description. It returns the fallback result together with the error on any
// failure.
func (a *Analyzer) AnalyzeSymptoms(ctx context.Context, description string) (models.SymptomAnalysis, error) {
	slog.Debug("genai.AnalyzeSymptoms: starting symptom analysis", "model", a.model, "description_length", len(description))

	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(symptomSystemPrompt),
		openai.UserMessage(fmt.Sprintf("Patient is describing the following foot-related symptoms: %q", description)),
	}

	content, err := a.completeJSON(ctx, messages, 600, 0.3)
	if err != nil {
		slog.Error("genai.AnalyzeSymptoms: completion failed, using fallback", "error", err)
		return FallbackSymptomAnalysis(), err
	}

	var result models.SymptomAnalysis
	if err := decodeResult(content, &result); err != nil {
		slog.Error("genai.AnalyzeSymptoms: response decode failed, using fallback", "error", err)
		return FallbackSymptomAnalysis(), err
	}
	result.Disclaimer = symptomDisclaimer
	slog.Info("genai.AnalyzeSymptoms: analysis complete", "severity", result.Severity, "urgency", result.Urgency, "conditions", len(result.PotentialConditions))
	return result, nil
}
