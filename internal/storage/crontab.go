package storage

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	logx "cronmon/pkg/logx"
)

// Crontab variables understood on import and emitted on export. CRON_TZ is
// the standard cron timezone assignment; the CRONMON_* markers attach a
// name label to a job or exclude a line from monitoring.
const (
	varName   = "CRONMON_NAME"
	varIgnore = "CRONMON_IGNORE"
	varTZ     = "CRON_TZ"
)

func (s *sqliteStore) Crontab(ctx context.Context, host, user string) ([]string, error) {
	jobs, err := s.JobsFor(ctx, host, user)
	if err != nil {
		return nil, err
	}

	var crontab []string
	timezone := ""
	first := true

	for _, job := range jobs {
		timeSpec := job.Time
		if timeSpec == "" {
			timeSpec = "### CRONMON: UNKNOWN SCHEDULE ###"
		}

		// Track the timezone, so that we do not repeat CRON_TZ
		// assignments unnecessarily.
		if job.Timezone != "" && job.Timezone != timezone {
			timezone = job.Timezone
			crontab = append(crontab, varTZ+"="+quoteMultiword(timezone))
		} else if job.Timezone == "" && (timezone != "" || first) {
			crontab = append(crontab, "### CRONMON: UNKNOWN TIMEZONE ###")
			timezone = ""
		}

		command := job.Command
		if job.Name != "" {
			command = varName + "=" + quoteMultiword(job.Name) + " " + command
		}

		crontab = append(crontab, timeSpec+" "+command)
		first = false
	}

	return crontab, nil
}

// These patterns do not deal with quoting or trailing spaces, so those are
// handled in the code below.
var (
	reBlank    = regexp.MustCompile(`^\s*$`)
	reComment  = regexp.MustCompile(`^\s*#`)
	reVariable = regexp.MustCompile(`^\s*(\w+)\s*=\s*(.*)$`)
	reCronRule = regexp.MustCompile(`^\s*(@\w+|\S+\s+\S+\s+\S+\s+\S+\s+\S+)\s+(.*)$`)
)

func (s *sqliteStore) SaveCrontab(ctx context.Context, host, user string, lines []string, timezone string) error {
	now := time.Now().UTC()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		idset, err := jobIDSet(ctx, tx, host, user)
		if err != nil {
			return err
		}

		name := ""
		tz := timezone

		// Walk the supplied cron lines, removing each matched job from
		// idset as we encounter it.
		for _, line := range lines {
			if reBlank.MatchString(line) || reComment.MatchString(line) {
				continue
			}

			if m := reVariable.FindStringSubmatch(line); m != nil {
				switch m[1] {
				case varName:
					name = removeQuotes(strings.TrimRight(m[2], " \t"))
				case varTZ:
					tz = removeQuotes(strings.TrimRight(m[2], " \t"))
				}
				continue
			}

			if m := reCronRule.FindStringSubmatch(line); m != nil {
				timeSpec, command := m[1], m[2]

				if rest, ok := strings.CutPrefix(command, varIgnore+"="); ok {
					ignore, cmd := splitQuotedWord(rest)
					command = cmd
					switch strings.ToLower(ignore) {
					case "0", "no", "false", "off":
					default:
						name = ""
						continue
					}
				}

				if rest, ok := strings.CutPrefix(command, varName+"="); ok {
					name, command = splitQuotedWord(rest)
				}

				command = strings.TrimRight(command, " \t")

				id, err := checkJob(ctx, tx, host, user, name, command, &timeSpec, &tz, now)
				if err != nil {
					return err
				}
				delete(idset, id)
				name = ""
				continue
			}

			s.log.Warn("crontab line not recognised", logx.String("line", line))
		}

		// Jobs left in the id set were not in the new crontab.
		for id := range idset {
			if err := deleteJob(ctx, tx, id, now); err != nil {
				return fmt.Errorf("delete job %d: %w", id, err)
			}
		}
		return nil
	})
}

func jobIDSet(ctx context.Context, tx *sql.Tx, host, user string) (map[int64]struct{}, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM job WHERE host = ? AND user = ? AND deleted IS NULL`,
		host, user)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	set := map[int64]struct{}{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		set[id] = struct{}{}
	}
	return set, rows.Err()
}

// quoteMultiword wraps a value in double quotes when it contains
// whitespace, so it survives the splitQuotedWord round trip.
func quoteMultiword(v string) string {
	if strings.ContainsAny(v, " \t") {
		return `"` + v + `"`
	}
	return v
}

func removeQuotes(v string) string {
	if len(v) >= 2 && (v[0] == '"' && v[len(v)-1] == '"' ||
		v[0] == '\'' && v[len(v)-1] == '\'') {
		return v[1 : len(v)-1]
	}
	return v
}

// splitQuotedWord splits the first (possibly quoted) word off a string and
// returns it together with the remainder.
func splitQuotedWord(v string) (string, string) {
	if v == "" {
		return "", ""
	}
	if v[0] == '"' || v[0] == '\'' {
		q := v[0]
		if i := strings.IndexByte(v[1:], q); i >= 0 {
			word := v[1 : 1+i]
			rest := strings.TrimLeft(v[i+2:], " \t")
			return word, rest
		}
	}
	parts := strings.SplitN(v, " ", 2)
	if len(parts) == 1 {
		return strings.TrimSpace(parts[0]), ""
	}
	return parts[0], strings.TrimLeft(parts[1], " \t")
}
