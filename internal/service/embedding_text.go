package service

import "strings"

const reportTextSeparator = ". "

func normalizeWhitespace(text string) string {
	if text == "" {
		return ""
	}
	return strings.Join(strings.Fields(text), " ")
}

// ReportText builds the text that is embedded for a report: title and description
// joined by a sentence separator, whitespace-normalized.
func ReportText(title, description string) string {
	title = normalizeWhitespace(title)
	description = normalizeWhitespace(description)
	switch {
	case title == "":
		return description
	case description == "":
		return title
	}
	return title + reportTextSeparator + description
}
