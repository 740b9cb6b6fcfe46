// Package display provides human-readable names for machine codes.
//
// Rule: code is for machines, words are for humans.
// Use these functions in CLI output and logs meant for people.
// Keep raw codes for JSON fields, map keys, and equality comparisons.
package display

import "strings"

// --- Step actions ---

var actions = map[string]string{
	"goto":         "Open URL",
	"click":        "Click",
	"fill":         "Fill",
	"wait":         "Wait",
	"text_content": "Read Text",
	"assert_text":  "Assert Text",
}

// Action returns the human-readable name for a step action.
// Unknown actions are returned as-is.
func Action(code string) string {
	if name, ok := actions[code]; ok {
		return name
	}
	return code
}

// ActionWithCode returns "Read Text (text_content)" format.
func ActionWithCode(code string) string {
	if name, ok := actions[code]; ok {
		return name + " (" + code + ")"
	}
	return code
}

// --- Step error kinds ---

var errorKinds = map[string]string{
	"MissingArgument":   "Missing Argument",
	"InvalidArgument":   "Invalid Argument",
	"ElementNotFound":   "Element Not Found",
	"ActionError":       "Browser Action Failed",
	"AssertionMismatch": "Assertion Mismatch",
}

// ErrorKind returns the human-readable name for a step failure kind.
// "" stays "".
func ErrorKind(code string) string {
	if name, ok := errorKinds[code]; ok {
		return name
	}
	return code
}

// --- Statuses ---

var statuses = map[string]string{
	"pending": "Pending",
	"running": "Running",
	"success": "Passed",
	"failure": "Failed",
}

// Status returns the human-readable name for a task or report status.
func Status(code string) string {
	if name, ok := statuses[code]; ok {
		return name
	}
	return code
}

// Outcome maps a success flag to "Passed" or "Failed".
func Outcome(success bool) string {
	if success {
		return statuses["success"]
	}
	return statuses["failure"]
}

// --- Locators ---

var locators = map[string]string{
	"css":   "CSS",
	"xpath": "XPath",
	"id":    "ID",
	"name":  "Name",
	"text":  "Text",
}

// Locator renders a locator as "CSS: #login".
func Locator(kind, value string) string {
	name, ok := locators[kind]
	if !ok {
		name = kind
	}
	return name + ": " + value
}

// --- Browsers ---

// Browser renders a browser type and mode, e.g. "Chromium (headless)".
func Browser(kind string, headless bool) string {
	name := kind
	if name != "" {
		name = strings.ToUpper(name[:1]) + name[1:]
	}
	if headless {
		return name + " (headless)"
	}
	return name + " (headed)"
}
