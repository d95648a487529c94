package event

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// Flattening turns an arbitrary protocol object into a loggable nested
// mapping. The generic path scans the object's textual rendering for
// "label : value" lines; objects that expose typed composite children
// implement one or more of the carrier interfaces below and get those
// children attached under fixed keys, which the line scan cannot express.

// AppContextCarrier exposes a named application/negotiation context.
type AppContextCarrier interface {
	ApplicationContext() (string, bool)
}

// SubItemCarrier exposes a repeated sub-structure collection, e.g.
// negotiated presentation contexts.
type SubItemCarrier interface {
	SubItems() []any
}

// UserDataCarrier exposes a nested user-data item collection.
type UserDataCarrier interface {
	UserDataItems() []any
}

const (
	keyApplicationContext   = "application_context"
	keyPresentationContexts = "presentation_contexts"
	keyUserInformation      = "user_information"
)

// decorative characters stripped from both ends of labels and values
const flattenCutset = " \t-='\""

// Flatten never panics. Flattened input is attacker-controlled; any
// failure degrades to an empty or partial mapping logged at debug.
func Flatten(obj any) (out map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			log.Debug().Interface("panic", r).Type("object", obj).
				Msg("flatten recovered, emitting partial mapping")
			if out == nil {
				out = map[string]any{}
			}
		}
	}()

	out = map[string]any{}
	if obj == nil {
		return out
	}

	for _, line := range strings.Split(render(obj), "\n") {
		label, value, ok := splitLabelValue(line)
		if !ok {
			continue
		}
		out[label] = value
	}

	if c, ok := obj.(AppContextCarrier); ok {
		if name, present := c.ApplicationContext(); present {
			out[keyApplicationContext] = name
		}
	}
	if c, ok := obj.(SubItemCarrier); ok {
		if items := flattenAll(c.SubItems()); len(items) > 0 {
			out[keyPresentationContexts] = items
		}
	}
	if c, ok := obj.(UserDataCarrier); ok {
		if items := flattenAll(c.UserDataItems()); len(items) > 0 {
			out[keyUserInformation] = items
		}
	}
	return out
}

func flattenAll(objs []any) []map[string]any {
	if len(objs) == 0 {
		return nil
	}
	items := make([]map[string]any, 0, len(objs))
	for _, o := range objs {
		items = append(items, Flatten(o))
	}
	return items
}

func render(obj any) string {
	if s, ok := obj.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%v", obj)
}

// splitLabelValue accepts only lines with exactly one colon and a
// non-empty label and value after trimming. Everything else is dropped;
// the lossiness is deliberate and keeps hostile renderings harmless.
func splitLabelValue(line string) (string, string, bool) {
	parts := strings.Split(line, ":")
	if len(parts) != 2 {
		return "", "", false
	}
	label := strings.Trim(parts[0], flattenCutset)
	value := strings.Trim(parts[1], flattenCutset)
	if label == "" || value == "" {
		return "", "", false
	}
	return label, value, true
}
