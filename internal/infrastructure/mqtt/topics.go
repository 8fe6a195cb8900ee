package mqtt

import "strings"

// ValidateFilter checks an MQTT topic filter: non-empty, no NUL, '+' only as
// a whole level and '#' only as the whole last level.
func ValidateFilter(filter string) error {
	if filter == "" || strings.ContainsRune(filter, 0) {
		return ErrInvalidTopic
	}

	levels := strings.Split(filter, "/")
	for i, level := range levels {
		if strings.Contains(level, "#") && (level != "#" || i != len(levels)-1) {
			return ErrInvalidTopic
		}
		if strings.Contains(level, "+") && level != "+" {
			return ErrInvalidTopic
		}
	}
	return nil
}

// ValidatePublishTopic checks a concrete topic name: a valid filter that
// contains no wildcards.
func ValidatePublishTopic(topic string) error {
	if err := ValidateFilter(topic); err != nil {
		return err
	}
	if strings.ContainsAny(topic, "+#") {
		return ErrInvalidTopic
	}
	return nil
}
