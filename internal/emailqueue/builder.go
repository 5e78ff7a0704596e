package emailqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/jobmatch-batch/internal/config"
	"github.com/ignite/jobmatch-batch/internal/domain"
)

// Template file names, resolved against EmailConfig.TemplateDir.
const (
	textTemplate = "digest.txt.liquid"
	htmlTemplate = "digest.html.liquid"
)

// sectionHeading maps section kinds to the reader-facing headings.
var sectionHeading = map[domain.SectionKind]string{
	domain.SectionEditorialPicks:     "Today's picks",
	domain.SectionHighSalary:         "High pay",
	domain.SectionExperienceMatch:    "Matches your experience",
	domain.SectionLocationConvenient: "Close to you",
	domain.SectionWeekendShort:       "Weekend and short shifts",
	domain.SectionOther:              "More to explore",
}

// Builder turns a user's slate into a queued EmailRecord.
type Builder struct {
	cfg      config.EmailConfig
	renderer *Renderer
	subjects *SubjectGenerator
}

// NewBuilder wires the renderer and subject generator.
func NewBuilder(cfg config.EmailConfig, renderer *Renderer, subjects *SubjectGenerator) *Builder {
	return &Builder{cfg: cfg, renderer: renderer, subjects: subjects}
}

// Build renders both bodies and the subject for one user. scheduled_for
// honors the configured send delay so the queue drains after the run.
func (b *Builder) Build(ctx context.Context, user *domain.User, slate *domain.SectionSlate,
	correlationID, batchID string, now time.Time) (domain.EmailRecord, error) {

	bindings := b.bindings(user, slate)

	text, err := b.renderer.Render(textTemplate, bindings)
	if err != nil {
		return domain.EmailRecord{}, fmt.Errorf("user %d: %w", user.UserID, err)
	}
	html, err := b.renderer.Render(htmlTemplate, bindings)
	if err != nil {
		return domain.EmailRecord{}, fmt.Errorf("user %d: %w", user.UserID, err)
	}

	return domain.EmailRecord{
		BatchID:       batchID,
		UserID:        user.UserID,
		Email:         user.Email,
		Subject:       b.subjects.Subject(ctx, user, slate),
		BodyText:      text,
		BodyHTML:      html,
		ScheduledFor:  now.Add(b.cfg.SendDelay()),
		Status:        domain.EmailQueued,
		CorrelationID: correlationID,
		CreatedAt:     now,
	}, nil
}

// bindings flattens the slate into the shape the Liquid templates walk.
func (b *Builder) bindings(user *domain.User, slate *domain.SectionSlate) map[string]interface{} {
	sections := make([]map[string]interface{}, 0, len(domain.SectionOrder))
	for _, kind := range domain.SectionOrder {
		items := slate.Sections[kind]
		if len(items) == 0 {
			continue
		}
		jobs := make([]map[string]interface{}, 0, len(items))
		for _, it := range items {
			jobs = append(jobs, map[string]interface{}{
				"title":       it.Job.Title,
				"company":     it.Job.CompanyCode,
				"min_salary":  it.Job.MinSalary,
				"salary_type": string(it.Job.SalaryType),
				"prefecture":  it.Job.PrefectureCode,
				"station":     it.Job.StationName,
				"is_fallback": it.IsFallback,
			})
		}
		sections = append(sections, map[string]interface{}{
			"heading": sectionHeading[kind],
			"jobs":    jobs,
		})
	}
	return map[string]interface{}{
		"from_name":  b.cfg.FromName,
		"email":      user.Email,
		"job_count":  slate.Size(),
		"sections":   sections,
		"prefecture": user.PrefectureCode,
	}
}
