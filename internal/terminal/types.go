package terminal

// Snapshot is the serialized form of one terminal's emulated screen:
// enough for a reconnecting client to repaint before live output resumes.
type Snapshot struct {
	Rows  int      `json:"rows"`
	Cols  int      `json:"cols"`
	Lines []string `json:"lines"`
}
