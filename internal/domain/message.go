package domain

import (
	"sort"
	"strings"
	"time"
)

// RawMessage is the inbound queue payload as produced by the web frontend.
// URLs follow the object-storage convention scheme://host/bucket/key...
type RawMessage struct {
	ConfigFile string `json:"config_file"`
	GCodeFile  string `json:"gcode_file"`
	Handle     string `json:"handle"`
	JobID      string `json:"job_id"`
	JobOID     string `json:"job_oid"`
	STLFile    string `json:"stl_file"`
}

// MissingFields returns the names of required fields that are empty,
// sorted for stable error messages.
func (m RawMessage) MissingFields() []string {
	required := map[string]string{
		"config_file": m.ConfigFile,
		"gcode_file":  m.GCodeFile,
		"handle":      m.Handle,
		"job_id":      m.JobID,
		"job_oid":     m.JobOID,
		"stl_file":    m.STLFile,
	}
	var missing []string
	for name, v := range required {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}

// Resource locates one object-storage file and its local working copy.
type Resource struct {
	URL       string
	Bucket    string
	Key       string
	LocalPath string
}

// Timing records wall-clock bounds for one pipeline stage.
type Timing struct {
	ElapsedMS int64
	StartedAt time.Time
	EndedAt   time.Time
}

func (t *Timing) Begin() {
	t.StartedAt = time.Now().UTC()
}

func (t *Timing) End() {
	t.EndedAt = time.Now().UTC()
	t.ElapsedMS = t.EndedAt.Sub(t.StartedAt).Milliseconds()
}

// Elapsed returns the recorded stage duration.
func (t Timing) Elapsed() time.Duration {
	return time.Duration(t.ElapsedMS) * time.Millisecond
}

// SlicingRequest is the in-memory unit of work for one claimed message.
type SlicingRequest struct {
	JobID  string
	JobOID string
	Handle string

	STL    Resource
	Config Resource
	GCode  Resource

	Download Timing
	Slice    Timing
	Upload   Timing
}
