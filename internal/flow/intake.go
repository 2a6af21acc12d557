package flow

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/footcare-clinic/intakebot/internal/models"
)

// Step keys of the intake flow. Only the keys referenced from other packages
// and tests are named; the graph itself is the source of truth.
const (
	StepWelcome           = "welcome"
	StepName              = "name"
	StepClinicLocation    = "clinic_location"
	StepUploadPrompt      = "upload_prompt"
	StepImageUpload       = "image_upload"
	StepImageAnalysis     = "image_analysis"
	StepIssueCategory     = "issue_category"
	StepSymptomDesc       = "symptom_description"
	StepSymptomAnalysis   = "symptom_analysis"
	StepPreviousTreatment = "previous_treatment"
	StepEmail             = "email"
	StepPhone             = "phone"
	StepHelpfulTips       = "helpful_tips"
)

func greet(collected map[string]string) string {
	if name := collected[FieldName]; name != "" {
		return name
	}
	return "there"
}

// clinicAnswer answers common free-text questions from static clinic
// knowledge. Anything unrecognized is deferred to the front desk.
func clinicAnswer(question string) string {
	q := strings.ToLower(question)
	switch {
	case strings.Contains(q, "price") || strings.Contains(q, "cost") || strings.Contains(q, "fee"):
		return "Our consultation fees vary depending on the treatment needed. During your appointment, our podiatrist will discuss all costs with you before any treatment begins."
	case strings.Contains(q, "appointment") || strings.Contains(q, "booking"):
		return "You can book appointments through our online system or by calling us at 089 9678596. We have locations in Donnycarney, Palmerstown, and Baldoyle."
	case strings.Contains(q, "location") || strings.Contains(q, "address"):
		return "We have three locations: Donnycarney (65 Collins Ave West), Palmerstown (Unit 4, Palmerstown Shopping Centre), and Baldoyle (123 Main Street)."
	case strings.Contains(q, "hours") || strings.Contains(q, "open"):
		return "Our hours vary by location: Donnycarney (Mon, Tue, Fri 9am-6pm), Palmerstown (Wed, Thu 9am-6pm), Baldoyle (Mon-Fri 10am-7pm)."
	}
	return "Thank you for your question. Our team will be happy to help you with this during your appointment, or you can call us at 089 9678596 for immediate assistance."
}

func yesNoOptions() []Option {
	return []Option{{Label: "Yes", Value: "yes"}, {Label: "No", Value: "no"}}
}

func anythingElseOptions() []Option {
	return []Option{
		{Label: "No, that's all for now", Value: "finished"},
		{Label: "Yes, I have another question", Value: "more_questions"},
	}
}

// NewIntakeGraph builds the clinic's canonical intake flow: identity details,
// clinic choice, optional photo with AI analysis, issue triage, symptom
// description with AI analysis, contact details, booking handoff, and a
// closing survey.
func NewIntakeGraph() (*Graph, error) {
	steps := map[string]Step{
		StepWelcome: {
			Message: Text("👋 Hello! I'm Fiona, your FootCare Clinic virtual assistant. I'll help gather some information about your foot and nail concerns and connect you with our team if needs be. Before we begin, I'll need to collect some basic information. Rest assured, your data is kept private and secure."),
			Next:    NextStep(StepName),
		},
		StepName: {
			Message:      Text("What's your name?"),
			Input:        InputText,
			Validate:     validName,
			ErrorMessage: nameShapeError,
			Next:         NextStep(StepClinicLocation),
		},
		StepClinicLocation: {
			Message: TextFunc(func(collected map[string]string) string {
				return fmt.Sprintf("Hi %s! Which one of our locations would you prefer to visit for your appointment?", greet(collected))
			}),
			Options: []Option{
				{Label: "Donnycarney", Value: "donnycarney"},
				{Label: "Palmerstown", Value: "palmerstown"},
				{Label: "Baldoyle", Value: "baldoyle"},
				{Label: "Not sure yet", Value: "undecided"},
			},
			Next: NextFunc(func(value string) string {
				switch value {
				case "donnycarney", "palmerstown", "baldoyle":
					return "clinic_info_" + value
				case "undecided":
					return "clinic_info_general"
				}
				return StepUploadPrompt
			}),
		},
		"clinic_info_donnycarney": {
			Message: Text("Great choice! Our Donnycarney clinic is open Monday, Tuesday & Friday from 9am-6pm. The address is: 65 Collins Ave West, Donnycarney, Dublin 9, D09 KY03"),
			Next:    NextStep(StepUploadPrompt),
		},
		"clinic_info_palmerstown": {
			Message: Text("Great choice! Our Palmerstown clinic is open Wednesday & Thursday from 9am-6pm. The address is: Unit 4, Palmerstown Shopping Centre, Palmerstown, Dublin 20, D20 XC67"),
			Next:    NextStep(StepUploadPrompt),
		},
		"clinic_info_baldoyle": {
			Message: Text("Great choice! Our Baldoyle clinic is open Monday to Friday from 10am-7pm. The address is: 123 Main Street, Baldoyle, Dublin 13, D13 AB45"),
			Next:    NextStep(StepUploadPrompt),
		},
		"clinic_info_general": {
			Message: Text("No worries - we can help you decide on the best location during your consultation. All our clinics offer the same high-quality care."),
			Next:    NextStep(StepUploadPrompt),
		},
		StepUploadPrompt: {
			Message: Text("Would you like to upload a photo of your foot concern? This can help us provide a better assessment."),
			Options: yesNoOptions(),
			Next: NextFunc(func(value string) string {
				if value == "yes" {
					return StepImageUpload
				}
				return StepIssueCategory
			}),
		},
		StepImageUpload: {
			Message:       Text("Please upload a clear photo of your foot concern:"),
			Input:         InputImage,
			Next:          NextStep(StepImageAnalysis),
			ResponseDelay: time.Second,
		},
		StepImageAnalysis: {
			Message: TextFunc(func(collected map[string]string) string {
				if collected[CollectedKeyImageAnalysis] == "" {
					// Degraded path: the engine already emitted the service notice.
					return ""
				}
				return "Thank you for sharing your image. Our AI system has analyzed it, but for a complete and accurate assessment, our podiatrists will need to examine your foot in person during your consultation."
			}),
			SideEffect:    SideEffectImageAnalysis,
			Next:          NextStep("image_analysis_results"),
			ResponseDelay: 2 * time.Second,
		},
		"image_analysis_results": {
			Message: TextFunc(imageAnalysisSummary),
			Next:    NextStep(StepIssueCategory),
		},
		StepIssueCategory: {
			Message: Text("What type of foot concern brings you to our clinic today?"),
			Options: []Option{
				{Label: "Nail problems", Value: "nail_problems"},
				{Label: "Pain or discomfort", Value: "pain_discomfort"},
				{Label: "Skin issues", Value: "skin_issues"},
				{Label: "Structural concerns", Value: "structural_concerns"},
			},
			Next: NextFunc(func(value string) string {
				switch value {
				case "nail_problems":
					return "nail_specifics"
				case "pain_discomfort":
					return "pain_specifics"
				case "skin_issues":
					return "skin_specifics"
				case "structural_concerns":
					return "structural_specifics"
				}
				return "pain_duration"
			}),
		},
		"nail_specifics": {
			Message: Text("Which specific nail issue are you experiencing?"),
			Options: []Option{
				{Label: "Ingrown toenail", Value: "ingrown_toenail"},
				{Label: "Fungal infection", Value: "fungal_infection"},
				{Label: "Thickened nails", Value: "thickened_nails"},
				{Label: "Discolored nails", Value: "discolored_nails"},
				{Label: "Other nail issue", Value: "other_nail_issue"},
			},
			Next: NextStep("pain_duration"),
		},
		"pain_specifics": {
			Message: Text("Where are you experiencing foot pain?"),
			Options: []Option{
				{Label: "Heel", Value: "heel"},
				{Label: "Arch", Value: "arch"},
				{Label: "Ball of foot", Value: "ball_of_foot"},
				{Label: "Toes", Value: "toes"},
				{Label: "Ankle", Value: "ankle"},
				{Label: "Entire foot", Value: "entire_foot"},
			},
			Next: NextStep("pain_duration"),
		},
		"skin_specifics": {
			Message: Text("What type of skin issue are you experiencing?"),
			Options: []Option{
				{Label: "Calluses or corns", Value: "calluses_corns"},
				{Label: "Dry or cracked skin", Value: "dry_cracked_skin"},
				{Label: "Rash or irritation", Value: "rash_irritation"},
				{Label: "Warts", Value: "warts"},
				{Label: "Athlete's foot", Value: "athletes_foot"},
				{Label: "Other skin issue", Value: "other_skin_issue"},
			},
			Next: NextStep("pain_duration"),
		},
		"structural_specifics": {
			Message: Text("What type of structural concern do you have?"),
			Options: []Option{
				{Label: "Bunions", Value: "bunions"},
				{Label: "Hammer toes", Value: "hammer_toes"},
				{Label: "Flat feet", Value: "flat_feet"},
				{Label: "High arches", Value: "high_arches"},
				{Label: "Claw toes", Value: "claw_toes"},
				{Label: "Other structural issue", Value: "other_structural_issue"},
			},
			Next: NextStep("pain_duration"),
		},
		"pain_duration": {
			Message: Text("How long have you been experiencing this issue?"),
			Options: []Option{
				{Label: "Less than a week", Value: "under_week"},
				{Label: "1-4 weeks", Value: "weeks"},
				{Label: "1-3 months", Value: "months"},
				{Label: "More than 3 months", Value: "over_three_months"},
			},
			Next: NextStep("pain_severity"),
		},
		"pain_severity": {
			Message: Text("On a scale from 1-10, how would you rate your pain or discomfort?"),
			Options: []Option{
				{Label: "0 (No pain)", Value: "none"},
				{Label: "1-3 (Mild)", Value: "mild"},
				{Label: "4-6 (Moderate)", Value: "moderate"},
				{Label: "7-10 (Severe)", Value: "severe"},
			},
			Next: NextStep("symptom_description_prompt"),
		},
		"symptom_description_prompt": {
			Message: Text("Would you like to provide additional details about your symptoms?"),
			Options: yesNoOptions(),
			Next: NextFunc(func(value string) string {
				if value == "yes" {
					return StepSymptomDesc
				}
				return StepPreviousTreatment
			}),
		},
		StepSymptomDesc: {
			Message: Text("Please describe your symptoms in detail. Include when they started, any triggers, and how they affect your daily life:"),
			Input:   InputTextarea,
			Validate: func(value string) bool {
				return len(strings.TrimSpace(value)) > 10
			},
			ErrorMessage: "Please provide a more detailed description (at least 10 characters)",
			Next:         NextStep(StepSymptomAnalysis),
		},
		StepSymptomAnalysis: {
			Message:    TextFunc(symptomAnalysisSummary),
			SideEffect: SideEffectSymptomAnalysis,
			Next:       NextStep(StepPreviousTreatment),
		},
		StepPreviousTreatment: {
			Message:    Text("Have you tried any treatments for this condition before?"),
			Options:    yesNoOptions(),
			Checkpoint: true,
			Next:       NextStep(StepEmail),
		},
		StepEmail: {
			Message:      Text("Please share your email address so we can send you appointment details:"),
			Input:        InputEmail,
			ErrorMessage: emailShapeError,
			Next:         NextStep(StepPhone),
		},
		StepPhone: {
			Message:      Text("Finally, could you please provide your phone number?"),
			Input:        InputPhone,
			Validate:     validPhone,
			ErrorMessage: phoneShapeError,
			Checkpoint:   true,
			Next:         NextStep("confirm"),
		},
		"confirm": {
			Message:       Text("Perfect! Here's our online booking system. Once you've completed your booking, let me know:"),
			Next:          NextStep("calendar_booking"),
			ResponseDelay: time.Second,
		},
		"calendar_booking": {
			Message: Text("Our booking calendar is open - pick any slot that suits you."),
			Options: []Option{{Label: "✅ Done! I've completed my booking", Value: "booked"}},
			Next:    NextStep("booking_confirmation"),
		},
		"booking_confirmation": {
			Message: TextFunc(func(collected map[string]string) string {
				return fmt.Sprintf("🎉 Thank you, %s! Your appointment has been successfully booked.", greet(collected))
			}),
			SideEffect:    SideEffectSyncPortal,
			Next:          NextStep("booking_thank_you"),
			ResponseDelay: time.Second,
		},
		"booking_thank_you": {
			Message:       Text("We're excited to help you with your foot care needs! You'll receive a confirmation email shortly with all the details. Our team is looking forward to seeing you at your scheduled appointment. For any questions before your visit, please feel free to contact us on 089 9678596."),
			Next:          NextStep("final_question"),
			ResponseDelay: 2 * time.Second,
		},
		"final_question": {
			Message: TextFunc(func(collected map[string]string) string {
				return fmt.Sprintf("Is there anything else I can help you with today, %s?", greet(collected))
			}),
			Options: []Option{
				{Label: "No, that's all for now", Value: "finished"},
				{Label: "Yes, I have another question", Value: "more_questions"},
				{Label: "I'd like to know about pricing", Value: "pricing"},
			},
			Next: NextFunc(func(value string) string {
				switch value {
				case "finished":
					return "thanks"
				case "pricing":
					return "pricing_info"
				}
				return "additional_help"
			}),
		},
		"pricing_info": {
			Message: Text("Our consultation fees vary depending on the treatment needed. During your appointment, our podiatrist will discuss all costs with you before any treatment begins. Is there anything else I can help with?"),
			Options: anythingElseOptions(),
			Next: NextFunc(func(value string) string {
				if value == "finished" {
					return "thanks"
				}
				return "additional_help"
			}),
		},
		"additional_help": {
			Message: Text("What would you like to know more about?"),
			Input:   InputTextarea,
			Next:    NextStep("help_response"),
		},
		"help_response": {
			Message: TextFunc(func(collected map[string]string) string {
				if question := collected[FieldAdditionalInfo]; question != "" {
					return clinicAnswer(question) + "\n\nIs there anything else I can help you with?"
				}
				return "Thank you for your question. Our team will be happy to help you with this during your appointment, or you can call us at 089 9678596 for immediate assistance."
			}),
			Options: anythingElseOptions(),
			Next: NextFunc(func(value string) string {
				if value == "finished" {
					return "thanks"
				}
				return "additional_help"
			}),
		},
		"thanks": {
			Message:       Text("Thank you for contacting FootCare Clinic! We look forward to helping you feel better soon. Have a great day! 👋"),
			Next:          NextStep("emoji_survey"),
			ResponseDelay: time.Second,
		},
		"emoji_survey": {
			Message: Text("Before you go, how was your experience today? Please rate us:"),
			Options: []Option{
				{Label: "😍 Excellent", Value: "excellent"},
				{Label: "😊 Good", Value: "good"},
				{Label: "😐 Okay", Value: "okay"},
				{Label: "😞 Poor", Value: "poor"},
			},
			Next: NextStep("survey_response"),
		},
		"survey_response": {
			Message: TextFunc(func(collected map[string]string) string {
				switch collected["surveyRating"] {
				case "excellent", "good":
					return "Thank you for the positive feedback! We're delighted we could help. 🌟"
				case "okay":
					return "Thank you for your feedback. We're always looking to improve our service!"
				case "poor":
					return "We're sorry your experience wasn't great. Please call us at 089 9678596 so we can make it right."
				}
				return "Thank you for your feedback! We appreciate you taking the time to rate us."
			}),
			Next:          NextStep(StepHelpfulTips),
			ResponseDelay: time.Second,
		},
		StepHelpfulTips: {
			Message:  Text("💡 Quick tip: For the best foot health, wear properly fitting shoes and keep your feet clean and dry daily. See you soon!"),
			Terminal: true,
		},
	}

	return NewGraph(GraphConfig{
		Steps:    steps,
		Entry:    StepWelcome,
		Fallback: StepIssueCategory,
		Fields: map[string]string{
			StepName:                     FieldName,
			StepPhone:                    FieldPhone,
			StepEmail:                    FieldEmail,
			StepClinicLocation:           FieldPreferredClinic,
			StepUploadPrompt:             FieldHasImage,
			StepImageUpload:              FieldImageData,
			StepIssueCategory:            FieldIssueCategory,
			"nail_specifics":             FieldIssueSpecifics,
			"pain_specifics":             FieldIssueSpecifics,
			"skin_specifics":             FieldIssueSpecifics,
			"structural_specifics":       FieldIssueSpecifics,
			"pain_duration":              FieldPainDuration,
			"pain_severity":              FieldPainSeverity,
			"symptom_description_prompt": "symptomDescriptionPrompt",
			StepSymptomDesc:              FieldSymptomDescription,
			StepPreviousTreatment:        FieldPreviousTreatment,
			"calendar_booking":           "calendarBooking",
			"final_question":             "finalQuestion",
			"additional_help":            FieldAdditionalInfo,
			"emoji_survey":               "surveyRating",
		},
		IdentityFields: []string{FieldName, FieldPhone, FieldEmail},
	})
}

// imageAnalysisSummary renders the merged image analysis result for the user.
// When the analysis took the degraded path the collected key is absent and a
// neutral handoff message is shown instead.
func imageAnalysisSummary(collected map[string]string) string {
	raw := collected[CollectedKeyImageAnalysis]
	if raw == "" {
		return "This information will help our specialists provide better care during your visit."
	}
	var analysis models.ImageAnalysis
	if err := json.Unmarshal([]byte(raw), &analysis); err != nil {
		return "This information will help our specialists provide better care during your visit."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Preliminary assessment: %s (severity: %s).", analysis.Condition, analysis.Severity)
	for _, rec := range analysis.Recommendations {
		fmt.Fprintf(&b, "\n• %s", rec)
	}
	if analysis.Disclaimer != "" {
		fmt.Fprintf(&b, "\n\n%s", analysis.Disclaimer)
	}
	return b.String()
}

// symptomAnalysisSummary renders the merged symptom analysis result.
func symptomAnalysisSummary(collected map[string]string) string {
	raw := collected[CollectedKeySymptomAnalysis]
	if raw == "" {
		return "Thank you for describing your symptoms. I'll pass this information to our specialists to review before your visit."
	}
	var analysis models.SymptomAnalysis
	if err := json.Unmarshal([]byte(raw), &analysis); err != nil {
		return "Thank you for describing your symptoms. I'll pass this information to our specialists to review before your visit."
	}
	var b strings.Builder
	b.WriteString("Based on your description, here's a preliminary view for our specialists:")
	if len(analysis.PotentialConditions) > 0 {
		fmt.Fprintf(&b, "\nPossible causes: %s.", strings.Join(analysis.PotentialConditions, ", "))
	}
	if analysis.Recommendation != "" {
		fmt.Fprintf(&b, "\n%s", analysis.Recommendation)
	}
	if analysis.Disclaimer != "" {
		fmt.Fprintf(&b, "\n\n%s", analysis.Disclaimer)
	}
	return b.String()
}
