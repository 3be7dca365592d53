package status

// State is a job's position in the slicing pipeline. The forward states are
// strictly ordered; Failed and Errored are terminal side states reachable
// from any forward state.
type State int

const (
	Waiting State = iota
	Preparing
	Running
	Postprocessing
	Done
	Failed
	Errored
)

type caption struct {
	Label  string
	Detail string
}

var captions = map[State]caption{
	Waiting:        {"Waiting to slice", "Job is queued"},
	Preparing:      {"Preparing slicer", "Downloading model and configuration"},
	Running:        {"Slicing", "Slicer is executing"},
	Postprocessing: {"Saving sliced model", "Uploading generated G-code"},
	Done:           {"Slicing completed", "Ready to print"},
	Failed:         {"Cannot slice", "Slicer rejected the model"},
	Errored:        {"Error", "Unexpected error"},
}

// Caption returns the human label/detail pair for s. An out-of-range state
// is reported as Errored rather than panicking.
func (s State) Caption() (string, string) {
	c, ok := captions[s]
	if !ok {
		c = captions[Errored]
	}
	return c.Label, c.Detail
}

func (s State) String() string {
	label, _ := s.Caption()
	return label
}
