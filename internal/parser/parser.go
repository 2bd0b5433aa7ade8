// Package parser extracts structured job details from the subject lines
// of job-notification emails. Subjects follow loose German phrasing such
// as "2 Umzugshelfer am 23.08.2025 ab 15:00 Uhr in 58452 Witten gesucht",
// but the wording varies, so extraction works token by token with
// ordered fallbacks. A parse miss is a normal outcome, not an error:
// many inbound mails are simply not job notifications.
package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"helferbot/internal/logging"
	"helferbot/pkg/models"
)

var (
	// Registration/verification mails from the portal reuse the same
	// sender address and must not be treated as jobs.
	nonJobRe = regexp.MustCompile(`(?i)registrierung|best(ä|ae)tigen|verifizier|willkommen|passwort`)

	dateFullRe  = regexp.MustCompile(`\b(\d{1,2})\.(\d{1,2})\.(\d{4})\b`)
	dateShortRe = regexp.MustCompile(`\b(\d{1,2})\.(\d{1,2})\.`)

	// Time tokens in priority order. The dotted form guards against
	// swallowing a date fragment ("ab 23.08." is a date, not 23:08).
	timeColonRe = regexp.MustCompile(`\b(?:um|ab)\s+(\d{1,2}):(\d{2})`)
	timeDotRe   = regexp.MustCompile(`\b(?:um|ab)\s+(\d{1,2})\.(\d{2})(?:[^.\d]|$)`)
	timeHourRe  = regexp.MustCompile(`\b(?:um|ab)\s+(\d{1,2})(?:[^.:\d]|$)`)
	bareTimeRe  = regexp.MustCompile(`(\d{1,2})([:.])(\d{2})`)

	zipRe      = regexp.MustCompile(`\b(\d{5})\b`)
	cityWordRe = regexp.MustCompile(`^[\p{L}][\p{L}\-]*\.?$`)
)

// Parse extracts a JobRecord from a raw email subject. It returns nil
// when the subject is not a job notification or lacks a required token.
// Pure function over its inputs aside from diagnostic logging; the
// received timestamp is currently informational only (year synthesis
// uses the current calendar year, see below).
func Parse(subject string, receivedAt time.Time) *models.JobRecord {
	logger := logging.GetGlobalLogger()

	subject = strings.TrimSpace(subject)
	if subject == "" {
		return nil
	}

	if nonJobRe.MatchString(subject) {
		logger.Debug("Subject matches non-job pattern, skipping", map[string]interface{}{
			"subject": subject,
		})
		return nil
	}

	date, dateStart, dateEnd, ok := extractDate(subject)
	if !ok {
		logger.Debug("No date token in subject", map[string]interface{}{"subject": subject})
		return nil
	}

	timeOfDay, ok := extractTime(subject, dateStart, dateEnd)
	if !ok {
		logger.Debug("No time token in subject", map[string]interface{}{"subject": subject})
		return nil
	}

	zip, city, ok := extractZipCity(subject)
	if !ok {
		logger.Debug("No zip/city token in subject", map[string]interface{}{"subject": subject})
		return nil
	}

	rec := &models.JobRecord{
		Date: date,
		Time: timeOfDay,
		Zip:  zip,
		City: city,
	}

	logger.Info("Parsed job subject", map[string]interface{}{
		"job":         rec.String(),
		"received_at": receivedAt.Format(time.RFC3339),
	})

	return rec
}

// extractDate finds a DD.MM.YYYY token, or a DD.MM. token with the year
// synthesized from the current calendar year. The latter is deliberate:
// the notification mails drop the year for near-term dates. Returns the
// normalized date and the match bounds within the subject.
func extractDate(subject string) (string, int, int, bool) {
	if loc := dateFullRe.FindStringSubmatchIndex(subject); loc != nil {
		day, _ := strconv.Atoi(subject[loc[2]:loc[3]])
		month, _ := strconv.Atoi(subject[loc[4]:loc[5]])
		year, _ := strconv.Atoi(subject[loc[6]:loc[7]])
		if !validDayMonth(day, month) {
			return "", 0, 0, false
		}
		return fmt.Sprintf("%02d.%02d.%04d", day, month, year), loc[0], loc[1], true
	}

	if loc := dateShortRe.FindStringSubmatchIndex(subject); loc != nil {
		day, _ := strconv.Atoi(subject[loc[2]:loc[3]])
		month, _ := strconv.Atoi(subject[loc[4]:loc[5]])
		if !validDayMonth(day, month) {
			return "", 0, 0, false
		}
		year := time.Now().Year()
		return fmt.Sprintf("%02d.%02d.%04d", day, month, year), loc[0], loc[1], true
	}

	return "", 0, 0, false
}

// extractTime tries the time patterns in priority order: "um/ab HH:MM",
// "um/ab HH.MM", "um/ab HH" (minutes default to 00), then a bare HH:MM
// or HH.MM anywhere outside the date token and not preceded by a
// digit-dot pair.
func extractTime(subject string, dateStart, dateEnd int) (string, bool) {
	if m := timeColonRe.FindStringSubmatch(subject); m != nil {
		if t, ok := normalizeTime(m[1], m[2]); ok {
			return t, true
		}
	}

	if m := timeDotRe.FindStringSubmatch(subject); m != nil {
		if t, ok := normalizeTime(m[1], m[2]); ok {
			return t, true
		}
	}

	if m := timeHourRe.FindStringSubmatch(subject); m != nil {
		if t, ok := normalizeTime(m[1], "00"); ok {
			return t, true
		}
	}

	for _, loc := range bareTimeRe.FindAllStringSubmatchIndex(subject, -1) {
		start, end := loc[0], loc[1]

		// Skip anything inside the date token itself.
		if start < dateEnd && end > dateStart {
			continue
		}
		// Skip fragments of a longer date, e.g. "08.20" in "23.08.2025".
		if start >= 2 && subject[start-1] == '.' && isDigit(subject[start-2]) {
			continue
		}
		// A trailing dot-digit means this is a date fragment, not a time.
		if end+1 < len(subject) && subject[end] == '.' && isDigit(subject[end+1]) {
			continue
		}

		if t, ok := normalizeTime(subject[loc[2]:loc[3]], subject[loc[6]:loc[7]]); ok {
			return t, true
		}
	}

	return "", false
}

// extractZipCity finds a 5-digit zip followed by at least one word.
// City words run until the literal "gesucht" or the first non-letter
// token; the city itself may end up empty ("... in 58452 gesucht").
func extractZipCity(subject string) (string, string, bool) {
	for _, loc := range zipRe.FindAllStringSubmatchIndex(subject, -1) {
		zip := subject[loc[2]:loc[3]]
		trailing := strings.Fields(subject[loc[1]:])
		if len(trailing) == 0 {
			continue
		}
		if !cityWordRe.MatchString(trailing[0]) {
			continue
		}

		var cityWords []string
		for _, word := range trailing {
			if strings.EqualFold(strings.TrimSuffix(word, "."), "gesucht") {
				break
			}
			if !cityWordRe.MatchString(word) {
				break
			}
			cityWords = append(cityWords, strings.TrimSuffix(word, "."))
		}

		return zip, strings.Join(cityWords, " "), true
	}

	return "", "", false
}

func normalizeTime(hourStr, minStr string) (string, bool) {
	hour, err := strconv.Atoi(hourStr)
	if err != nil || hour > 23 {
		return "", false
	}
	minute, err := strconv.Atoi(minStr)
	if err != nil || minute > 59 {
		return "", false
	}
	return fmt.Sprintf("%02d:%02d", hour, minute), true
}

func validDayMonth(day, month int) bool {
	return day >= 1 && day <= 31 && month >= 1 && month <= 12
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
