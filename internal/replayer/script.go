package replayer

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/vincentbai/browsetrace-replay/internal/models"
)

// Elements are found by viewport coordinate, so a changed layout replays
// against whatever now sits at the recorded point.

const clickTemplate = `(function() {
  var element = document.elementFromPoint(%s, %s);
  if (element) {
    element.click();
    return true;
  }
  return false;
})()`

const inputTemplate = `(function() {
  var element = document.elementFromPoint(%s, %s);
  if (element && element.tagName === 'INPUT') {
    element.value = %s;
    element.dispatchEvent(new Event('input', { bubbles: true }));
    return true;
  }
  return false;
})()`

func ClickScript(x, y float64) string {
	return fmt.Sprintf(clickTemplate, formatCoordinate(x), formatCoordinate(y))
}

func InputScript(x, y float64, value string) string {
	literal, _ := json.Marshal(value) // marshaling a string cannot fail
	return fmt.Sprintf(inputTemplate, formatCoordinate(x), formatCoordinate(y), literal)
}

// ScriptFor builds the snippet for a click or input event. It reports false
// for other types and for events without usable coordinates.
func ScriptFor(event models.Event) (string, bool) {
	x, okX := coordinate(event.Data["x"])
	y, okY := coordinate(event.Data["y"])
	if !okX || !okY {
		return "", false
	}

	switch event.Type {
	case models.EventClick:
		return ClickScript(x, y), true
	case models.EventInput:
		value, _ := event.Data["value"].(string)
		return InputScript(x, y, value), true
	default:
		return "", false
	}
}

func formatCoordinate(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func coordinate(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
