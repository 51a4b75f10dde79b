package transfer

// Task describes one download to perform. All fields except URL and
// OutputPath are optional.
type Task struct {
	// URL is the resolved media URL (simple file or HLS manifest).
	URL string

	// OutputPath is the target file. When OutputPathHasExtension is false
	// the transfer appends ".ts" (HLS) or ".mp4" (simple) before opening.
	OutputPath             string
	OutputPathHasExtension bool

	// Overwrite truncates an existing target; otherwise an existing file is
	// a fatal collision.
	Overwrite bool

	// Message overrides the progress display name (default: file name).
	Message string

	// Referer is sent on every request belonging to this task.
	Referer string
}
