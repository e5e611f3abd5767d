package validator

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/docker/go-units"
	"github.com/fatih/color"
)

// Status is the tri-state outcome of a single check.
type Status int

const (
	// Pass means the check found nothing wrong.
	Pass Status = iota
	// Warn is advisory: reported, but never flips the overall verdict.
	Warn
	// Fail is fatal for the run. The run still completes every check.
	Fail
)

func (s Status) String() string {
	switch s {
	case Warn:
		return "WARN"
	case Fail:
		return "FAIL"
	default:
		return "PASS"
	}
}

// MarshalJSON renders the status as its string form.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// CheckResult is one entry in the validation report.
type CheckResult struct {
	Name    string   `json:"name"`
	Status  Status   `json:"status"`
	Details []string `json:"details,omitempty"`
}

// fail records a fatal finding. Later findings never downgrade it.
func (c *CheckResult) fail(format string, args ...interface{}) {
	c.Status = Fail
	c.Details = append(c.Details, fmt.Sprintf(format, args...))
}

// warn records an advisory finding unless the check already failed.
func (c *CheckResult) warn(format string, args ...interface{}) {
	if c.Status != Fail {
		c.Status = Warn
	}
	c.Details = append(c.Details, fmt.Sprintf(format, args...))
}

// note records a detail without touching the status.
func (c *CheckResult) note(format string, args ...interface{}) {
	c.Details = append(c.Details, fmt.Sprintf(format, args...))
}

// Report is the ordered, append-only sequence of check results for one run.
type Report struct {
	Image     string        `json:"image"`
	ImageID   string        `json:"image_id,omitempty"`
	ImageSize int64         `json:"image_size,omitempty"`
	Results   []CheckResult `json:"results"`
}

// NewReport creates an empty report for the target image.
func NewReport(image string) *Report {
	return &Report{Image: image}
}

// Add appends a check result to the report.
func (r *Report) Add(result CheckResult) {
	r.Results = append(r.Results, result)
}

// Verdict is Fail iff at least one check failed; warnings never count.
func (r *Report) Verdict() Status {
	for _, result := range r.Results {
		if result.Status == Fail {
			return Fail
		}
	}
	return Pass
}

// Passed reports whether the run may gate a deployment.
func (r *Report) Passed() bool {
	return r.Verdict() == Pass
}

var (
	passTag = color.New(color.FgGreen, color.Bold).SprintFunc()
	warnTag = color.New(color.FgYellow, color.Bold).SprintFunc()
	failTag = color.New(color.FgRed, color.Bold).SprintFunc()

	passBanner = lipgloss.NewStyle().Bold(true).Padding(0, 2).
			Foreground(lipgloss.Color("10")).Border(lipgloss.NormalBorder())
	failBanner = lipgloss.NewStyle().Bold(true).Padding(0, 2).
			Foreground(lipgloss.Color("9")).Border(lipgloss.NormalBorder())
)

func statusTag(s Status) string {
	switch s {
	case Warn:
		return warnTag("[WARN]")
	case Fail:
		return failTag("[FAIL]")
	default:
		return passTag("[PASS]")
	}
}

// Print writes the human-readable, line-oriented report. This is the
// baseline output contract; JSON is the optional machine mode.
func (r *Report) Print(w io.Writer) {
	fmt.Fprintf(w, "Validation report for %s\n", r.Image)
	if r.ImageID != "" {
		fmt.Fprintf(w, "  image id: %s\n", r.ImageID)
	}
	if r.ImageSize > 0 {
		fmt.Fprintf(w, "  size: %s\n", units.HumanSize(float64(r.ImageSize)))
	}
	fmt.Fprintln(w)

	for _, result := range r.Results {
		fmt.Fprintf(w, "%s %s\n", statusTag(result.Status), result.Name)
		for _, detail := range result.Details {
			fmt.Fprintf(w, "       %s\n", detail)
		}
	}

	fmt.Fprintln(w)
	if r.Passed() {
		fmt.Fprintln(w, passBanner.Render("VALIDATION PASSED"))
	} else {
		fmt.Fprintln(w, failBanner.Render("VALIDATION FAILED"))
	}
}

// JSON writes the report as indented JSON.
func (r *Report) JSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
