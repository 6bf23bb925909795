package store

import "time"

// DefaultBranch is assigned to changesets that report no branch.
const DefaultBranch = "default"

// Locale is a target language.
type Locale struct {
	ID   int64
	Code string
	Name string
}

// Forest groups sibling repositories, one per locale.
type Forest struct {
	ID       int64
	Name     string
	URL      string
	ForkOfID int64
	Archived bool
}

// Repository is a single VCS repository mirrored locally.
type Repository struct {
	ID       int64
	Name     string
	URL      string
	ForestID int64
	LocaleID int64
	Archived bool
}

// Changeset is an immutable commit in the DAG.
type Changeset struct {
	ID          int64
	Revision    string
	Author      string
	Description string
	Branch      string
	Parents     []string
	Files       []string
}

// File is a path touched by at least one changeset.
type File struct {
	ID   int64
	Path string
}

// Push is a group of changesets submitted together to one repository.
type Push struct {
	ID           int64
	RepositoryID int64
	PushID       int64
	Date         time.Time
	Author       string
}

// PushChangeset is a changeset as listed within a push.
type PushChangeset struct {
	PushID      int64
	ChangesetID int64
	Revision    string
	Author      string
	Description string
	Branch      string
}

// Tree is a build target composed of one forest.
type Tree struct {
	ID       int64
	Code     string
	ForestID int64
}

// Application is a product shipping one or more versions.
type Application struct {
	ID   int64
	Code string
	Name string
}

// AppVersion is a release line of an application.
type AppVersion struct {
	ID              int64
	ApplicationID   int64
	Version         string
	Code            string
	Name            string
	AcceptsSignoffs bool
	FallbackID      int64
}

// AppVersionTree is a time-bounded association between an app version and a tree.
type AppVersionTree struct {
	ID           int64
	AppVersionID int64
	TreeID       int64
	StartAt      *time.Time
	EndAt        *time.Time
}

// Signoff proposes shipping a push for a locale and app version.
type Signoff struct {
	ID           int64
	PushID       int64
	AppVersionID int64
	LocaleID     int64
	Author       string
	CreatedAt    time.Time
}

// Action is an append-only status change on a sign-off.
type Action struct {
	ID        int64
	SignoffID int64
	Seq       int64
	Flag      Flag
	Author    string
	CreatedAt time.Time
	Comment   string
}

// SignoffState pairs a sign-off with its push and latest action.
type SignoffState struct {
	Signoff
	PushDate time.Time
	Latest   *Action
}

// Status returns the flag of the latest action, or FlagUnknown when the
// sign-off has none.
func (s SignoffState) Status() Flag {
	if s.Latest == nil {
		return FlagUnknown
	}
	return s.Latest.Flag
}

// LocaleAction is an action joined with its sign-off's locale, as consumed by
// fallback resolution.
type LocaleAction struct {
	ActionID   int64
	SignoffID  int64
	Seq        int64
	Flag       Flag
	LocaleCode string
	CreatedAt  time.Time
}

// Run is a build/QA run of a locale on a tree.
type Run struct {
	ID       int64
	TreeID   int64
	LocaleID int64
	Revision string
	Errors   int
	Missing  int
	SrcTime  time.Time
	Active   bool
}

// Clean reports whether the run finished with no errors and no missing strings.
func (r Run) Clean() bool {
	return r.Errors == 0 && r.Missing == 0
}
