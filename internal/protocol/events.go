package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Event is a loosely typed OBS event. JSON numbers decode as float64.
type Event map[string]interface{}

// Event types the sorter reacts to.
const (
	EventActionResult = "ACTION_RESULT"
	EventTaskDone     = "TASK_DONE"
	EventTaskFail     = "TASK_FAIL"
	EventContainer    = "CONTAINER"
)

func (e Event) Type() string { return e.String("type") }

func (e Event) String(key string) string {
	s, _ := e[key].(string)
	return s
}

func (e Event) Bool(key string) bool {
	b, _ := e[key].(bool)
	return b
}

// ContainerID formats the "TYPE@x,y,z" address used by OPEN and TRANSFER.
func ContainerID(typ string, x, y, z int) string {
	return fmt.Sprintf("%s@%d,%d,%d", typ, x, y, z)
}

func ParseContainerID(id string) (typ string, x, y, z int, ok bool) {
	parts := strings.SplitN(id, "@", 2)
	if len(parts) != 2 || parts[0] == "" {
		return "", 0, 0, 0, false
	}
	coord := strings.Split(parts[1], ",")
	if len(coord) != 3 {
		return "", 0, 0, 0, false
	}
	x, err1 := strconv.Atoi(coord[0])
	y, err2 := strconv.Atoi(coord[1])
	z, err3 := strconv.Atoi(coord[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return "", 0, 0, 0, false
	}
	return parts[0], x, y, z, true
}
