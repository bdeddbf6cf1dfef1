package store

import "github.com/TalelCS/melek/internal/models"

var transitionMap = map[string][]string{
	"advance": {models.StatusWaiting},
	"defer":   {models.StatusWaiting},
	"no_show": {models.StatusWaiting},
	"remove":  {models.StatusWaiting},
	"leave":   {models.StatusWaiting},
	"reorder": {models.StatusWaiting},
}

var terminalStatus = map[string]string{
	"advance": models.StatusDone,
	"no_show": models.StatusNoShow,
	"remove":  models.StatusRemovedByAdmin,
	"leave":   models.StatusLeft,
}

func ValidTransition(action, fromStatus string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}

// TerminalStatus returns the status an action moves a waiting ticket to.
// Actions that keep the ticket waiting report false.
func TerminalStatus(action string) (string, bool) {
	status, ok := terminalStatus[action]
	return status, ok
}
