package feed

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/quakewatch/quake-alert-service/internal/domain"
)

// Extraction failures mean the feed's structure changed, not that a row was
// malformed. They abort the whole parse; the caller retains the raw body for
// offline diagnosis.
var (
	ErrNoPreBlock    = errors.New("feed: pre block not found")
	ErrTableNotFound = errors.New("feed: earthquake table not found")
)

var (
	// preRe isolates the <pre> block that carries the bulletin table.
	preRe = regexp.MustCompile(`(?s)<pre>(.*?)</pre>`)

	// tableRe anchors on the Turkish column header followed by the dashed
	// separator line. tableFallbackRe tolerates header drift (including the
	// mojibake form of "Niteliği") by anchoring only on the first column name.
	tableRe         = regexp.MustCompile(`(?s)Tarih\s+Saat\s+Enlem.*?Çözüm Niteliği\s*\n-+\s+-+\s+(.*?)(?:\n\s*\n|\z)`)
	tableFallbackRe = regexp.MustCompile(`(?s)Tarih.*?-+\s+-+\s+(.*?)(?:\n\s*\n|\z)`)

	// strictLineRe matches a fully columnar row: date, time, latitude,
	// longitude, depth, three magnitude tokens ("-.-" = not reported), then
	// location and quality separated by at least two spaces.
	strictLineRe = regexp.MustCompile(`^(\d{4})\.(\d{2})\.(\d{2})\s+(\d{2}:\d{2}:\d{2})\s+(\d+\.\d+)\s+(\d+\.\d+)\s+(\d+\.\d+)\s+(-\.-|\d+\.\d+)\s+(-\.-|\d+\.\d+)\s+(-\.-|\d+\.\d+)\s+(.*?)\s{2,}(\S.*?)$`)

	// relaxedLineRe captures the location/quality tail as one blob when the
	// two-space separation is collapsed.
	relaxedLineRe = regexp.MustCompile(`^(\d{4})\.(\d{2})\.(\d{2})\s+(\d{2}:\d{2}:\d{2})\s+(\d+\.\d+)\s+(\d+\.\d+)\s+(\d+\.\d+)\s+(-\.-|\d+\.\d+)\s+(-\.-|\d+\.\d+)\s+(-\.-|\d+\.\d+)\s+(.+)$`)

	// mojibake repairs the legacy-encoding substitution artifacts the
	// upstream produces for Turkish capitals.
	mojibake = strings.NewReplacer("Ý", "İ", "Ð", "Ğ", "Þ", "Ş")
)

// qualityLabels are the tail tokens recognized as a quality tag on the
// relaxed path, including the pre-repair mojibake form.
var qualityLabels = map[string]bool{
	domain.QualityProvisional: true,
	domain.QualityRevised:     true,
	"Ýlksel":                  true,
}

// SkippedLine records one bulletin row the parser dropped and why, so the
// skip path is auditable instead of silent.
type SkippedLine struct {
	Line   string
	Reason string
}

// Result is the outcome of parsing one bulletin body.
type Result struct {
	Events  []domain.Earthquake
	Skipped []SkippedLine
}

// Parse turns raw bulletin markup into event records. It is pure: no I/O,
// no side effects. Rows that fail to parse are skipped individually and
// reported in Result.Skipped; only a structural change to the feed (missing
// pre block or table markers) fails the whole parse. Output order is feed
// order; no sorting is imposed.
func Parse(raw string) (Result, error) {
	pre := preRe.FindStringSubmatch(raw)
	if pre == nil {
		return Result{}, ErrNoPreBlock
	}

	table := tableRe.FindStringSubmatch(pre[1])
	if table == nil {
		table = tableFallbackRe.FindStringSubmatch(pre[1])
		if table == nil {
			return Result{}, ErrTableNotFound
		}
	}

	var res Result
	for _, line := range strings.Split(strings.TrimSpace(table[1]), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.Contains(line, "------") || strings.Contains(line, "Tarih") {
			continue
		}

		ev, reason := parseLine(line)
		if reason != "" {
			res.Skipped = append(res.Skipped, SkippedLine{Line: line, Reason: reason})
			continue
		}
		res.Events = append(res.Events, ev)
	}

	return res, nil
}

// parseLine attempts the strict columnar match, then the relaxed one.
// It returns a non-empty reason when the row must be skipped.
func parseLine(line string) (domain.Earthquake, string) {
	var location, quality string

	m := strictLineRe.FindStringSubmatch(line)
	if m != nil {
		location, quality = m[11], m[12]
	} else {
		m = relaxedLineRe.FindStringSubmatch(line)
		if m == nil {
			return domain.Earthquake{}, "no row pattern matched"
		}
		location, quality = splitLocationQuality(m[11])
	}

	occurredAt, err := composeTimestamp(m[1], m[2], m[3], m[4])
	if err != nil {
		return domain.Earthquake{}, fmt.Sprintf("bad timestamp: %v", err)
	}

	lat, err := strconv.ParseFloat(m[5], 64)
	if err != nil {
		return domain.Earthquake{}, fmt.Sprintf("bad latitude %q", m[5])
	}
	lon, err := strconv.ParseFloat(m[6], 64)
	if err != nil {
		return domain.Earthquake{}, fmt.Sprintf("bad longitude %q", m[6])
	}
	depth, err := strconv.ParseFloat(m[7], 64)
	if err != nil {
		return domain.Earthquake{}, fmt.Sprintf("bad depth %q", m[7])
	}

	md, err := parseMagnitude(m[8])
	if err != nil {
		return domain.Earthquake{}, fmt.Sprintf("bad md %q", m[8])
	}
	ml, err := parseMagnitude(m[9])
	if err != nil {
		return domain.Earthquake{}, fmt.Sprintf("bad ml %q", m[9])
	}
	mw, err := parseMagnitude(m[10])
	if err != nil {
		return domain.Earthquake{}, fmt.Sprintf("bad mw %q", m[10])
	}

	ev := domain.Earthquake{
		OccurredAt: occurredAt,
		Latitude:   lat,
		Longitude:  lon,
		Depth:      depth,
		MD:         md,
		ML:         ml,
		MW:         mw,
		Magnitude:  domain.DeriveMagnitude(md, ml, mw),
		Location:   mojibake.Replace(strings.TrimSpace(location)),
		Quality:    mojibake.Replace(strings.TrimSpace(quality)),
	}
	ev.DeriveCalendar()
	return ev, ""
}

// splitLocationQuality right-splits a combined tail into location and
// quality using the last whitespace-delimited token when it is a recognized
// quality label; otherwise the whole tail is the location and quality
// defaults to provisional.
func splitLocationQuality(tail string) (string, string) {
	tail = strings.TrimSpace(tail)
	if i := strings.LastIndexFunc(tail, func(r rune) bool { return r == ' ' || r == '\t' }); i >= 0 {
		if last := strings.TrimSpace(tail[i+1:]); qualityLabels[last] {
			return strings.TrimSpace(tail[:i]), last
		}
	}
	return tail, domain.QualityProvisional
}

// composeTimestamp builds a UTC time from the bulletin's date and HH:MM:SS
// columns. The feed timestamps are UTC by convention.
func composeTimestamp(year, month, day, hms string) (time.Time, error) {
	return time.Parse(time.RFC3339, fmt.Sprintf("%s-%s-%sT%sZ", year, month, day, hms))
}

// parseMagnitude parses one magnitude token; "-.-" means not reported.
func parseMagnitude(s string) (*float64, error) {
	if s == "-.-" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
