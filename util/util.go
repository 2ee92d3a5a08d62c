package util

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Errors collects multiple errors, e.g. every missing environment variable
// instead of only the first one.
type Errors []error

func (e Errors) Error() string {
	messages := make([]string, 0, len(e))
	for _, err := range e {
		messages = append(messages, err.Error())
	}
	return strings.Join(messages, "\n")
}

// RequireEnv returns the value of the environment variable varName. If it is
// unset, an error is appended to errs.
func RequireEnv(varName string, errs *Errors) string {
	value := os.Getenv(varName)
	if len(value) == 0 {
		*errs = append(*errs, fmt.Errorf("environment variable %s must be set", varName))
	}
	return value
}

// EnvOrDefault returns the environment variable varName, or defaults[varName]
// if it is unset.
func EnvOrDefault(varName string, defaults map[string]string) string {
	value := os.Getenv(varName)
	if len(value) == 0 {
		value = defaults[varName]
	}
	return value
}

// EnvBool parses varName as a bool, falling back to defaults. Unparseable
// values are reported through errs.
func EnvBool(varName string, defaults map[string]string, errs *Errors) bool {
	raw := EnvOrDefault(varName, defaults)
	value, err := strconv.ParseBool(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: expected a boolean, got %q", varName, raw))
	}
	return value
}

// EnvInt parses varName as an int, falling back to defaults.
func EnvInt(varName string, defaults map[string]string, errs *Errors) int {
	raw := EnvOrDefault(varName, defaults)
	value, err := strconv.Atoi(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: expected an integer, got %q", varName, raw))
	}
	return value
}

// EnvDuration parses varName with time.ParseDuration, falling back to defaults.
func EnvDuration(varName string, defaults map[string]string, errs *Errors) time.Duration {
	raw := EnvOrDefault(varName, defaults)
	value, err := time.ParseDuration(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: expected a duration, got %q", varName, raw))
	}
	return value
}

// ValidPort turns a port number into a listen address, e.g. "8000" -> ":8000".
func ValidPort(port string) (string, error) {
	if _, err := strconv.Atoi(port); err != nil {
		return "", fmt.Errorf("given port %s is not a number", port)
	}
	return fmt.Sprintf(":%s", port), nil
}

// SplitList splits a comma-separated list, trimming whitespace and dropping
// empty entries.
func SplitList(list string) []string {
	items := []string{}
	for _, item := range strings.Split(list, ",") {
		item = strings.TrimSpace(item)
		if len(item) > 0 {
			items = append(items, item)
		}
	}
	return items
}
