// Package domain models the KOERI earthquake bulletin data.
//
// # Data Source
//
// Events originate from the Kandilli Observatory and Earthquake Research
// Institute (KOERI) at Bogazici University, published as a fixed-width text
// table embedded in an HTML page at
// http://www.koeri.boun.edu.tr/scripts/lst1.asp. The feed lists roughly the
// last 500 events, newest first, and is re-fetched on an interval by the
// scheduler.
//
// # Bulletin Conventions
//
// Row format (columns separated by runs of spaces):
//
//	2025.01.10 09:05:56  36.9173   27.6803   8.9   -.-  1.4  -.-   GOKOVA KORFEZI (EGE DENIZI)   İlksel
//	date       time      latitude  longitude depth MD   ML   MW    location                      quality
//
// Magnitudes are reported on up to three scales (duration MD, local ML,
// moment MW); "-.-" is the sentinel for a scale that was not computed. The
// primary magnitude of an event is the maximum of the scales present, and
// absent when none is.
//
// Quality is either "İlksel" (provisional, the default) or "REVIZE"
// (revised). Revised rows replace provisional ones at the source; both
// resolve to the same natural key here, so the first-seen row wins.
//
// The upstream page is served in a legacy Turkish encoding and arrives with
// predictable substitution artifacts (Ý for İ, Ð for Ğ, Þ for Ş) in the
// location and quality text; the parser repairs these with a fixed table.
//
// # Identity
//
// An event is identified by the (occurred_at, latitude, longitude) triple.
// Coordinates appear in the feed as four-decimal fixed-point text, so exact
// float comparison on the parsed values is deterministic. Storage enforces
// the same triple with a UNIQUE constraint, which makes re-ingesting the
// same bulletin idempotent.
package domain
