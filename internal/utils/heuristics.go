package utils

import (
	"regexp"
	"strings"
)

// Response indicators attached to campaign results
const (
	FlagSQLError   = "sql_error"
	FlagErrorTrace = "stack_trace"
	FlagReflected  = "reflected"
)

var errorTracePatterns = []*regexp.Regexp{
	regexp.MustCompile(`at (java|org|com)\.`),
	regexp.MustCompile(`traceback \(most recent call last\)`),
	regexp.MustCompile(`file "/.*", line [0-9]+, in`),
	regexp.MustCompile(`exception in thread`),
	regexp.MustCompile(`stack trace:`),
	regexp.MustCompile(`panic: .*\n\ngoroutine [0-9]+`),
}

var sqlErrorPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sql syntax`),
	regexp.MustCompile(`mysql_`),
	regexp.MustCompile(`pg_query\(\)|psql: error|postgresql.*error`),
	regexp.MustCompile(`ora-[0-9]{4,5}`),
	regexp.MustCompile(`sqlite3?\.|sqlite_error|sqlite error`),
	regexp.MustCompile(`syntax error at or near`),
	regexp.MustCompile(`unclosed quotation mark`),
	regexp.MustCompile(`quoted string not properly terminated`),
	regexp.MustCompile(`invalid column name`),
	regexp.MustCompile(`table or view does not exist`),
	regexp.MustCompile(`ambiguous column name`),
}

// ContainsErrorTrace checks the body for stack traces
func ContainsErrorTrace(body string) bool {
	return matchAny(errorTracePatterns, strings.ToLower(body))
}

// ContainsSQLError checks the body for database error messages
func ContainsSQLError(body string) bool {
	return matchAny(sqlErrorPatterns, strings.ToLower(body))
}

// Reflected reports whether any payload shows up verbatim in the body.
// Very short payloads are ignored, they match by accident.
func Reflected(body string, payloads []string) bool {
	for _, p := range payloads {
		if len(p) >= 4 && strings.Contains(body, p) {
			return true
		}
	}
	return false
}

func matchAny(patterns []*regexp.Regexp, s string) bool {
	for _, re := range patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
