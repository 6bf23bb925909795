package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool         `json:"running"`
	PID          int          `json:"pid"`
	Driver       string       `json:"driver"`
	DatabasePath string       `json:"databasePath,omitempty"`
	LockFilePath string       `json:"lockFilePath"`
	Ingest       IngestStatus `json:"ingest"`
	Stats        StoreStats   `json:"stats"`
}

// IngestStatus reports the scheduler state.
type IngestStatus struct {
	Enabled      bool   `json:"enabled"`
	LastPoll     string `json:"lastPoll,omitempty"`
	LastError    string `json:"lastError,omitempty"`
	Repositories int    `json:"repositories"`
	Failures     int    `json:"failures"`
}

// StoreStats carries table row counts.
type StoreStats struct {
	Repositories int64 `json:"repositories"`
	Changesets   int64 `json:"changesets"`
	Pushes       int64 `json:"pushes"`
	Signoffs     int64 `json:"signoffs"`
	Actions      int64 `json:"actions"`
	Runs         int64 `json:"runs"`
}

// PushRecord is one push log entry submitted for ingestion.
type PushRecord struct {
	PushID    int64    `json:"pushId"`
	Date      string   `json:"date"`
	User      string   `json:"user"`
	Revisions []string `json:"revisions"`
}

// IngestRequest wraps pushes submitted for one repository.
type IngestRequest struct {
	Pushes []PushRecord `json:"pushes"`
}

// IngestResponse reports how many push records were processed.
type IngestResponse struct {
	Repository string `json:"repository"`
	Processed  int    `json:"processed"`
}

// LocaleFlags is the effective state of one locale.
type LocaleFlags struct {
	Locale     string           `json:"locale"`
	AppVersion string           `json:"appVersion"`
	Fallback   bool             `json:"fallback"`
	Flags      map[string]int64 `json:"flags"`
}

// AppVersionFlags lists the locales of one app version.
type AppVersionFlags struct {
	AppVersion string        `json:"appVersion"`
	Locales    []LocaleFlags `json:"locales"`
}

// FlagsResponse wraps resolution results in request order.
type FlagsResponse struct {
	AppVersions []AppVersionFlags `json:"appVersions"`
}

// Changeset describes a changeset listed in a push.
type Changeset struct {
	Revision    string `json:"revision"`
	Author      string `json:"author"`
	Description string `json:"description"`
	Branch      string `json:"branch"`
}

// Action is one entry of a sign-off's log.
type Action struct {
	ID        int64  `json:"id"`
	Seq       int64  `json:"seq"`
	Flag      string `json:"flag"`
	Author    string `json:"author"`
	CreatedAt string `json:"createdAt,omitempty"`
	Comment   string `json:"comment,omitempty"`
}

// Signoff describes a sign-off and its current status.
type Signoff struct {
	ID           int64    `json:"id"`
	PushID       int64    `json:"pushId"`
	AppVersionID int64    `json:"appVersionId"`
	LocaleID     int64    `json:"localeId"`
	Author       string   `json:"author"`
	CreatedAt    string   `json:"createdAt,omitempty"`
	Status       string   `json:"status"`
	Latest       *Action  `json:"latest,omitempty"`
	Actions      []Action `json:"actions,omitempty"`
}

// Run is a build run as shown next to a push.
type Run struct {
	ID       int64  `json:"id"`
	Revision string `json:"revision"`
	Errors   int    `json:"errors"`
	Missing  int    `json:"missing"`
	SrcTime  string `json:"srcTime,omitempty"`
	Active   bool   `json:"active"`
	Clean    bool   `json:"clean"`
}

// Push is an annotated push.
type Push struct {
	ID           int64       `json:"id"`
	PushID       int64       `json:"pushId"`
	RepositoryID int64       `json:"repositoryId"`
	Date         string      `json:"date"`
	Author       string      `json:"author"`
	Changesets   []Changeset `json:"changesets"`
	Signoffs     []Signoff   `json:"signoffs,omitempty"`
	Run          *Run        `json:"run,omitempty"`
	Suggest      bool        `json:"suggest"`
	Fallback     bool        `json:"fallback"`
}

// PushPage is one page of annotated pushes.
type PushPage struct {
	Pushes     []Push `json:"pushes"`
	PushesLeft int64  `json:"pushesLeft"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// AddSignoffRequest proposes a push for sign-off.
type AddSignoffRequest struct {
	AppVersion string `json:"appVersion"`
	Locale     string `json:"locale"`
	PushID     int64  `json:"pushId"`
	Author     string `json:"author"`
}

// SignoffResponse wraps a sign-off and whether the call created it.
type SignoffResponse struct {
	Signoff Signoff `json:"signoff"`
	Created bool    `json:"created"`
}

// ReviewRequest accepts or rejects a sign-off. Cascade defaults to the
// configured policy when omitted.
type ReviewRequest struct {
	Outcome   string `json:"outcome"`
	Author    string `json:"author"`
	Comment   string `json:"comment,omitempty"`
	Cascade   *bool  `json:"cascade,omitempty"`
	ExpectSeq int64  `json:"expectSeq,omitempty"`
}

// TransitionRequest cancels or reopens a sign-off.
type TransitionRequest struct {
	Author  string `json:"author"`
	Comment string `json:"comment,omitempty"`
}

// TransitionResponse reports the appended action.
type TransitionResponse struct {
	SignoffID int64   `json:"signoffId"`
	Previous  string  `json:"previous"`
	Action    Action  `json:"action"`
	Canceled  []int64 `json:"canceled,omitempty"`
}

// RunRequest records a build run.
type RunRequest struct {
	Tree     string `json:"tree"`
	Locale   string `json:"locale"`
	Revision string `json:"revision"`
	Errors   int    `json:"errors"`
	Missing  int    `json:"missing"`
	SrcTime  string `json:"srcTime,omitempty"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}
