package consult

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/whiskr/whiskr/internal/domain/patient"
	"github.com/whiskr/whiskr/internal/platform/ai"
	"github.com/whiskr/whiskr/internal/platform/noteparse"
	"github.com/whiskr/whiskr/internal/platform/realtime"
)

// The scribe prompt pins plain text and colon headings so the noteparse
// extractors can find vitals, differentials and procedure details in the
// output.
const reportSystemPrompt = `You are a veterinary medical scribe writing clinic records from consultation recordings.

Your style:
- Professional and clinical
- Use clear, precise medical language
- Record only information supported by the recording
- Do NOT include greetings, commentary, or sign-offs

IMPORTANT FORMATTING RULES:
- Do NOT use markdown formatting (no **, *, #, ## symbols)
- Use plain text with section headers followed by colons
- Use numbered lists (1. 2. 3.) for ranked items
- Use line breaks to separate sections`

const soapInstructions = `Write a SOAP report for this veterinary consultation.
Use exactly four sections labeled "Subjective:", "Objective:", "Assessment:" and "Plan:".
In the Objective section, record any vitals mentioned as "Temperature:", "Heart Rate:", "Respiratory Rate:" and "Weight:" lines.
In the Assessment section, list candidate diagnoses under a "Differential Diagnoses:" heading as a numbered list, most likely first.`

const wellnessInstructions = `Write a wellness visit report for this veterinary consultation.
Use sections labeled "History:", "Physical Examination:", "Preventive Care:" and "Recommendations:".
In the Physical Examination section, record any vitals mentioned as "Temperature:", "Heart Rate:", "Respiratory Rate:" and "Weight:" lines.`

const procedureInstructions = `Write a procedure report for this veterinary consultation.
Begin with a "Procedure:" line naming the procedure performed and an "Anesthesia:" line describing any anesthesia or sedation used.
Then use sections labeled "Findings:", "Complications:" and "Aftercare:".`

var reportInstructions = map[string]string{
	ReportSOAP:      soapInstructions,
	ReportWellness:  wellnessInstructions,
	ReportProcedure: procedureInstructions,
}

// Generate writes an AI report into the consult. A SOAP report fills the
// four note fields; other types land in AltReports under their type key.
// Heuristic extraction then fills vitals, differentials, procedure details
// and the visit type, but only where the draft is still empty. Allowed any
// number of times while the consult is a draft.
func (s *Service) Generate(ctx context.Context, consultID uuid.UUID, reportType string) (*Consult, error) {
	c, err := s.repo.GetByID(ctx, consultID)
	if err != nil {
		return nil, fmt.Errorf("consult not found: %w", err)
	}
	if c.Finalized() {
		return nil, ErrFinalized
	}
	instructions, ok := reportInstructions[reportType]
	if !ok {
		return nil, fmt.Errorf("invalid report type: %s", reportType)
	}

	p, err := s.patients.GetPatient(ctx, c.PatientID)
	if err != nil {
		return nil, fmt.Errorf("patient not found: %w", err)
	}

	transcription := "No transcription available"
	if t, err := s.repo.LatestTranscript(ctx, consultID); err != nil {
		return nil, err
	} else if t != nil {
		transcription = t.Content
	}

	res, err := s.gen.Generate(ctx, ai.Request{
		System: reportSystemPrompt,
		Prompt: buildReportPrompt(instructions, p, transcription),
	})
	if err != nil {
		return nil, err
	}

	applyReport(c, reportType, res.Text)
	normalize(c)

	if err := s.repo.Update(ctx, c); err != nil {
		return nil, err
	}
	s.publish(ctx, "consults", realtime.ActionUpdate, c.ID)
	s.notify(ctx, c.CreatedBy, "report_generated", "Report generated",
		fmt.Sprintf("A %s report was generated for %s.", reportType, p.Name),
		map[string]string{"consult_id": c.ID.String(), "report_type": reportType})
	return c, nil
}

func buildReportPrompt(instructions string, p *patient.Patient, transcription string) string {
	var b strings.Builder
	b.WriteString(instructions)
	b.WriteString("\n\nPatient Information:\n")
	fmt.Fprintf(&b, "• Patient ID: %s\n", p.ID)
	fmt.Fprintf(&b, "• Name: %s\n", orUnknown(p.Name))
	fmt.Fprintf(&b, "• Species: %s\n", orUnknown(p.Species))
	fmt.Fprintf(&b, "• Breed: %s\n", orUnknown(deref(p.Breed)))
	fmt.Fprintf(&b, "• Sex: %s\n", orUnknown(deref(p.Sex)))
	fmt.Fprintf(&b, "• Age: %s\n", orUnknown(p.Age(time.Now())))
	if p.WeightKG != nil {
		fmt.Fprintf(&b, "• Weight: %.1f kg\n", *p.WeightKG)
	}
	b.WriteString("\nRecording Transcription:\n")
	b.WriteString(transcription)
	return b.String()
}

// applyReport stores the generated text and runs the fill-empty-only
// heuristics over it.
func applyReport(c *Consult, reportType, text string) {
	if reportType == ReportSOAP {
		if sections, ok := noteparse.SplitSOAP(text); ok {
			c.Subjective = sections.Subjective
			c.Objective = sections.Objective
			c.Assessment = sections.Assessment
			c.Plan = sections.Plan
		} else {
			// No recognizable headings; keep the report whole rather than
			// guessing a section.
			if c.AltReports == nil {
				c.AltReports = map[string]string{}
			}
			c.AltReports[ReportSOAP] = text
		}
	} else {
		if c.AltReports == nil {
			c.AltReports = map[string]string{}
		}
		c.AltReports[reportType] = text
	}

	if c.Vitals == "" {
		if v := noteparse.ExtractVitals(text); !v.IsZero() {
			c.Vitals = v.Summary()
		}
	}
	if len(c.Differentials) == 0 {
		c.Differentials = noteparse.ExtractDifferentials(text)
	}
	pr := noteparse.ExtractProcedure(text)
	if c.ProcedureName == "" {
		c.ProcedureName = pr.Name
	}
	if c.Anesthesia == "" {
		c.Anesthesia = pr.Anesthesia
	}
	if c.VisitType == "" || c.VisitType == noteparse.VisitUnclassified {
		if vt := noteparse.ClassifyVisitType(text); vt != noteparse.VisitUnclassified {
			c.VisitType = vt
		}
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
