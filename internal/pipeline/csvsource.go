package pipeline

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/ignite/jobmatch-batch/internal/domain"
)

// CSVSource reads the importer drop file. The importer upstream owns
// validation and normalization; this side only frames rows, skips the
// malformed ones with a ValidationError count, and maps columns onto
// Job fields. Required columns: external_id, title, company_name,
// location, employment_type, salary_min, salary_max, description.
type CSVSource struct {
	Path string
}

var csvColumns = []string{
	"external_id", "title", "company_name", "location",
	"employment_type", "salary_min", "salary_max", "description",
}

// Rows reads and maps every row of the drop file. Row-level problems
// are skipped and logged; only file-level failures return an error.
func (s *CSVSource) Rows(ctx context.Context) ([]domain.Job, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("open import file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	for _, name := range csvColumns {
		if _, ok := col[name]; !ok {
			return nil, &domain.ValidationError{Row: name, Detail: "required column missing from import file"}
		}
	}

	var jobs []domain.Job
	skipped := 0
	now := time.Now()
	for line := 2; ; line++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			skipped++
			continue
		}
		job, err := mapCSVRow(record, col, now)
		if err != nil {
			skipped++
			log.Printf("[CSVSource] line %d skipped: %v", line, err)
			continue
		}
		jobs = append(jobs, job)
	}
	if skipped > 0 {
		log.Printf("[CSVSource] %s: %d rows read, %d skipped", s.Path, len(jobs), skipped)
	}
	return jobs, nil
}

func mapCSVRow(record []string, col map[string]int, now time.Time) (domain.Job, error) {
	field := func(name string) string {
		i := col[name]
		if i >= len(record) {
			return ""
		}
		return record[i]
	}
	externalID := field("external_id")
	if externalID == "" {
		return domain.Job{}, &domain.ValidationError{Row: "external_id", Detail: "empty"}
	}
	title := field("title")
	if title == "" {
		return domain.Job{}, &domain.ValidationError{Row: "title", Detail: "empty"}
	}
	minSalary, err := atoiOrZero(field("salary_min"))
	if err != nil {
		return domain.Job{}, &domain.ValidationError{Row: "salary_min", Detail: err.Error()}
	}
	maxSalary, err := atoiOrZero(field("salary_max"))
	if err != nil {
		return domain.Job{}, &domain.ValidationError{Row: "salary_max", Detail: err.Error()}
	}
	return domain.Job{
		ExternalID:     externalID,
		Title:          title,
		CompanyCode:    field("company_name"),
		PrefectureCode: field("location"),
		Employment:     field("employment_type"),
		SalaryType:     domain.SalaryHourly,
		MinSalary:      minSalary,
		MaxSalary:      maxSalary,
		PostedAt:       now,
	}, nil
}

func atoiOrZero(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}
