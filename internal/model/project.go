package model

const (
	StatusNotStarted = "Not Started"
	StatusCompleted  = "Completed"

	DefaultProjectName = "Untitled"
)

// Step is one stage of a project's workflow. Status and Deadline are opaque
// client-defined strings.
type Step struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	Deadline string `json:"deadline"`
}

type Project struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Problem   string `json:"problem"`
	CreatedAt string `json:"createdAt"`
	Steps     []Step `json:"steps"`
}

// DefaultStepNames is the workflow every new project starts with.
var DefaultStepNames = []string{
	"Project Name",
	"Problem Statement",
	"Project Planning",
	"Backend Prototype",
	"Backend Modular",
	"Frontend Prototype",
	"Integration",
	"Testing",
}

// DefaultSteps returns a fresh copy of the creation template. The first two
// steps are already done once a project has a name and a problem statement.
func DefaultSteps() []Step {
	steps := make([]Step, len(DefaultStepNames))
	for i, name := range DefaultStepNames {
		status := StatusNotStarted
		if i < 2 {
			status = StatusCompleted
		}
		steps[i] = Step{Name: name, Status: status}
	}
	return steps
}
