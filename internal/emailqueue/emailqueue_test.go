package emailqueue

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/jobmatch-batch/internal/config"
	"github.com/ignite/jobmatch-batch/internal/domain"
)

var queueNow = time.Date(2026, 8, 24, 3, 40, 0, 0, time.UTC)

func templateDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	text := `Hi {{ email }}, {{ job_count }} jobs today.
{% for section in sections %}{{ section.heading }}:
{% for job in section.jobs %}- {{ job.title }} ({{ job.min_salary | yen }})
{% endfor %}{% endfor %}`
	html := `<p>{{ job_count }} jobs for {{ email | default: "you" }}</p>`
	require.NoError(t, os.WriteFile(filepath.Join(dir, textTemplate), []byte(text), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, htmlTemplate), []byte(html), 0o644))
	return dir
}

func sampleSlate() *domain.SectionSlate {
	return &domain.SectionSlate{
		UserID: 42,
		Sections: map[domain.SectionKind][]domain.ScoredJob{
			domain.SectionEditorialPicks: {
				{Job: &domain.Job{JobID: 1, Title: "Barista", MinSalary: 1250, SalaryType: domain.SalaryHourly}, Score: 88},
				{Job: &domain.Job{JobID: 2, Title: "Cashier", MinSalary: 1100, SalaryType: domain.SalaryHourly}, Score: 85},
			},
			domain.SectionOther: {
				{Job: &domain.Job{JobID: -1, Title: "More opportunities for you"}, Score: 25, IsFallback: true},
			},
		},
		GeneratedAt: queueNow,
	}
}

func sampleUser() *domain.User {
	return &domain.User{UserID: 42, Email: "u42@example.com", PrefectureCode: "13", EmailEnabled: true, IsActive: true}
}

func TestRendererRendersWithFilters(t *testing.T) {
	r := NewRenderer(templateDir(t))
	out, err := r.Render(textTemplate, map[string]interface{}{
		"email":     "u42@example.com",
		"job_count": 3,
		"sections": []map[string]interface{}{{
			"heading": "Today's picks",
			"jobs":    []map[string]interface{}{{"title": "Barista", "min_salary": 1250}},
		}},
	})
	require.NoError(t, err)
	assert.Contains(t, out, "Hi u42@example.com, 3 jobs today.")
	assert.Contains(t, out, "Today's picks:")
	assert.Contains(t, out, "Barista (¥1,250)")
}

func TestRendererDefaultFilter(t *testing.T) {
	r := NewRenderer(templateDir(t))
	out, err := r.Render(htmlTemplate, map[string]interface{}{"job_count": 1, "email": ""})
	require.NoError(t, err)
	assert.Contains(t, out, "1 jobs for you")
}

func TestRendererMissingTemplate(t *testing.T) {
	r := NewRenderer(t.TempDir())
	_, err := r.Render("nope.liquid", nil)
	assert.Error(t, err)
}

func TestRendererCachesCompiledTemplates(t *testing.T) {
	dir := templateDir(t)
	r := NewRenderer(dir)
	_, err := r.Render(htmlTemplate, map[string]interface{}{"job_count": 1, "email": "a"})
	require.NoError(t, err)

	// Deleting the file after first render must not matter.
	require.NoError(t, os.Remove(filepath.Join(dir, htmlTemplate)))
	_, err = r.Render(htmlTemplate, map[string]interface{}{"job_count": 2, "email": "b"})
	assert.NoError(t, err)
}

func TestGroupDigits(t *testing.T) {
	tests := []struct {
		in   int
		want string
	}{
		{0, "0"},
		{950, "950"},
		{1000, "1,000"},
		{12500, "12,500"},
		{1234567, "1,234,567"},
		{-5, "-5"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, groupDigits(tt.in), "%d", tt.in)
	}
}

func TestFallbackSubjectCountsRealJobsOnly(t *testing.T) {
	assert.Equal(t, "2 new jobs picked for you today", fallbackSubject(sampleSlate()))

	allFallback := &domain.SectionSlate{Sections: map[domain.SectionKind][]domain.ScoredJob{
		domain.SectionOther: {{Job: &domain.Job{JobID: -1}, IsFallback: true}},
	}}
	assert.Equal(t, "1 new jobs picked for you today", fallbackSubject(allFallback))
}

func TestTopTitlesSkipsFallbacks(t *testing.T) {
	titles := topTitles(sampleSlate(), 3)
	assert.Equal(t, []string{"Barista", "Cashier"}, titles)

	assert.Equal(t, []string{"Barista"}, topTitles(sampleSlate(), 1))
}

func TestDisabledSubjectGeneratorUsesFallback(t *testing.T) {
	g := NewSubjectGenerator(context.Background(), config.BedrockConfig{Enabled: false})
	subject := g.Subject(context.Background(), sampleUser(), sampleSlate())
	assert.Equal(t, "2 new jobs picked for you today", subject)
}

func TestBuilderBuildsQueuedRecord(t *testing.T) {
	cfg := config.EmailConfig{
		FromName:         "Job Digest",
		FromEmail:        "digest@example.com",
		SendDelayMinutes: 60,
		TemplateDir:      templateDir(t),
	}
	b := NewBuilder(cfg, NewRenderer(cfg.TemplateDir),
		NewSubjectGenerator(context.Background(), config.BedrockConfig{}))

	rec, err := b.Build(context.Background(), sampleUser(), sampleSlate(), "corr-1", "batch_x", queueNow)
	require.NoError(t, err)

	assert.Equal(t, "batch_x", rec.BatchID)
	assert.Equal(t, int64(42), rec.UserID)
	assert.Equal(t, "u42@example.com", rec.Email)
	assert.Equal(t, domain.EmailQueued, rec.Status)
	assert.Equal(t, "corr-1", rec.CorrelationID)
	assert.Equal(t, queueNow.Add(time.Hour), rec.ScheduledFor)
	assert.Contains(t, rec.BodyText, "Barista")
	assert.Contains(t, rec.BodyHTML, "3 jobs")
	assert.NotEmpty(t, rec.Subject)
}
