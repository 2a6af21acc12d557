package genai

import (
	"context"
	"log/slog"

	"github.com/footcare-clinic/intakebot/internal/models"
	"github.com/openai/openai-go"
)

const imageSystemPrompt = `You are a podiatric assessment assistant for the FootCare Clinic in Dublin.
Analyze the image of a foot condition and provide:
1. The most likely condition based on visual symptoms (be specific about the condition)
2. The apparent severity (mild, moderate, severe)
3. Up to 3 specific recommendations for the patient

Format your response as JSON with these fields:
- condition: string (specific name of the condition)
- severity: string (mild, moderate, or severe)
- recommendations: array of strings (3 specific recommendations)

Be factual and avoid speculating beyond what's visible. If you cannot determine a condition clearly, state that in your assessment.

Common foot conditions include: bunions, plantar fasciitis, athlete's foot, ingrown toenails, corns, calluses, hammertoes, flat feet, heel spurs, and nail fungus.`

// FallbackImageAnalysis is returned whenever the image analysis cannot be
// completed. It keeps the conversation moving with an advisory result.
func FallbackImageAnalysis() models.ImageAnalysis {
	return models.ImageAnalysis{
		Condition: "Unable to analyze image at this time",
		Severity:  "unknown",
		Recommendations: []string{
			"Continue with the consultation to describe your symptoms.",
			"Consider visiting a clinic for an in-person assessment if concerned.",
		},
		Disclaimer: "This is a fallback response due to an API issue. Please describe your symptoms or visit a clinic for proper assessment.",
	}
}

// AnalyzeImage runs the vision analysis over a base64-encoded foot photo.
// It returns the fallback result together with the error on any failure.
func (a *Analyzer) AnalyzeImage(ctx context.Context, imageBase64 string) (models.ImageAnalysis, error) {
	slog.Debug("genai.AnalyzeImage: starting image analysis", "model", a.model, "image_bytes", len(imageBase64))

	imageURL := "data:image/jpeg;base64," + imageBase64
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(imageSystemPrompt),
		openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
			openai.TextContentPart("I need help identifying this foot condition. Please analyze the image and provide a detailed assessment."),
			openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: imageURL}),
		}),
	}

	content, err := a.completeJSON(ctx, messages, 800, 0.3)
	if err != nil {
		slog.Error("genai.AnalyzeImage: completion failed, using fallback", "error", err)
		return FallbackImageAnalysis(), err
	}

	var result models.ImageAnalysis
	if err := decodeResult(content, &result); err != nil {
		slog.Error("genai.AnalyzeImage: response decode failed, using fallback", "error", err)
		return FallbackImageAnalysis(), err
	}
	result.Disclaimer = imageDisclaimer
	slog.Info("genai.AnalyzeImage: analysis complete", "condition", result.Condition, "severity", result.Severity)
	return result, nil
}
