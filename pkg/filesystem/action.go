package filesystem

import "fmt"

// Action identifies one operation of the storage layer. The set is closed:
// every action has a fixed contract of required inputs, checked once at
// configuration time.
type Action string

const (
	ActionCreate          Action = "create"
	ActionList            Action = "list"
	ActionInfo            Action = "info"
	ActionRead            Action = "read"
	ActionReadDelete      Action = "readDelete"
	ActionMove            Action = "move"
	ActionCopy            Action = "copy"
	ActionDelete          Action = "delete"
	ActionMkdir           Action = "mkdir"
	ActionRmdir           Action = "rmdir"
	ActionWrite           Action = "write"
	ActionAppend          Action = "append"
	ActionRename          Action = "rename"
	ActionForward         Action = "forward"
	ActionListAttachments Action = "listAttachments"
)

// actionAliases maps deprecated action names to their replacements.
var actionAliases = map[string]Action{
	"download": ActionRead,
	"upload":   ActionWrite,
}

// ParseAction resolves an action name, accepting the deprecated aliases
// download and upload. The second result reports whether a deprecated alias
// was used, so callers can log a warning.
func ParseAction(name string) (Action, bool, error) {
	if replacement, ok := actionAliases[name]; ok {
		return replacement, true, nil
	}
	a := Action(name)
	switch a {
	case ActionCreate, ActionList, ActionInfo, ActionRead, ActionReadDelete,
		ActionMove, ActionCopy, ActionDelete, ActionMkdir, ActionRmdir,
		ActionWrite, ActionAppend, ActionRename, ActionForward,
		ActionListAttachments:
		return a, false, nil
	}
	return "", false, fmt.Errorf("unknown action %q", name)
}

// RequiresDestination reports whether the action needs a destination
// attribute or parameter.
func (a Action) RequiresDestination() bool {
	switch a {
	case ActionMove, ActionCopy, ActionRename, ActionForward:
		return true
	}
	return false
}

// RequiresContents reports whether the action consumes content bytes.
func (a Action) RequiresContents() bool {
	return a == ActionWrite || a == ActionAppend
}

// RequiresWritable reports whether the action needs the writable
// capability. Folder actions are excluded: CreateFolder and RemoveFolder
// belong to the basic interface every backend provides.
func (a Action) RequiresWritable() bool {
	switch a {
	case ActionCreate, ActionMove, ActionCopy,
		ActionWrite, ActionAppend, ActionRename:
		return true
	}
	return false
}

// RequiresMail reports whether the action needs the mail capability.
func (a Action) RequiresMail() bool {
	return a == ActionForward
}

// RequiresAttachments reports whether the action needs the
// attachment-bearing capability.
func (a Action) RequiresAttachments() bool {
	return a == ActionListAttachments
}

// RequiresExistingTarget reports whether the action fails with a not-found
// error when the target file is absent.
func (a Action) RequiresExistingTarget() bool {
	switch a {
	case ActionInfo, ActionRead, ActionReadDelete, ActionDelete,
		ActionMove, ActionCopy, ActionRename, ActionForward,
		ActionListAttachments:
		return true
	}
	return false
}

func (a Action) String() string {
	return string(a)
}
