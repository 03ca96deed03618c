package ingest

import (
	"context"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Conventions holds the literal column values the live schema accepts for
// message direction and sender role. Older deployments use in/out, newer ones
// inbound/outbound; writers consult this value instead of hard-coding
// literals. Resolved once at startup and immutable afterwards.
type Conventions struct {
	DirectionIn   string
	DirectionOut  string
	SenderAgent   string
	SenderContact string
}

// DefaultConventions is the safe fallback when introspection fails.
var DefaultConventions = Conventions{
	DirectionIn:   "in",
	DirectionOut:  "out",
	SenderAgent:   "agent",
	SenderContact: "contact",
}

var checkLiteralRe = regexp.MustCompile(`'([^']+)'`)

// ResolveConventions inspects the check constraints on the messages table and
// derives the accepted direction/sender literals. Environment overrides
// (MSG_DIRECTION_IN, MSG_DIRECTION_OUT, MSG_SENDER_AGENT, MSG_SENDER_CONTACT)
// win over introspection; introspection wins over the static default.
func ResolveConventions(ctx context.Context, log *slog.Logger, pool *pgxpool.Pool) Conventions {
	conv := DefaultConventions

	rows, err := pool.Query(ctx, `
		SELECT pg_get_constraintdef(c.oid)
		FROM pg_constraint c
		JOIN pg_class t ON t.oid = c.conrelid
		WHERE t.relname = 'messages' AND c.contype = 'c'`)
	if err != nil {
		log.Warn("constraint introspection failed, using defaults", slog.Any("error", err))
	} else {
		defer rows.Close()
		for rows.Next() {
			var def string
			if err := rows.Scan(&def); err != nil {
				continue
			}
			applyConstraintDef(&conv, def)
		}
	}

	applyEnvOverrides(&conv)
	log.Info("message conventions resolved",
		slog.String("direction_in", conv.DirectionIn),
		slog.String("direction_out", conv.DirectionOut),
		slog.String("sender_agent", conv.SenderAgent),
		slog.String("sender_contact", conv.SenderContact))
	return conv
}

// applyConstraintDef updates conv from one check-constraint definition, e.g.
// CHECK ((direction = ANY (ARRAY['in'::text, 'out'::text]))).
func applyConstraintDef(conv *Conventions, def string) {
	literals := extractLiterals(def)
	if len(literals) == 0 {
		return
	}
	switch {
	case strings.Contains(def, "direction"):
		for _, lit := range literals {
			if strings.HasPrefix(lit, "in") {
				conv.DirectionIn = lit
			} else if strings.HasPrefix(lit, "out") {
				conv.DirectionOut = lit
			}
		}
	case strings.Contains(def, "sender_role"):
		for _, lit := range literals {
			if strings.Contains(lit, "agent") {
				conv.SenderAgent = lit
			} else if strings.Contains(lit, "contact") || strings.Contains(lit, "customer") {
				conv.SenderContact = lit
			}
		}
	}
}

func extractLiterals(def string) []string {
	matches := checkLiteralRe.FindAllStringSubmatch(def, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}

func applyEnvOverrides(conv *Conventions) {
	if v := os.Getenv("MSG_DIRECTION_IN"); v != "" {
		conv.DirectionIn = v
	}
	if v := os.Getenv("MSG_DIRECTION_OUT"); v != "" {
		conv.DirectionOut = v
	}
	if v := os.Getenv("MSG_SENDER_AGENT"); v != "" {
		conv.SenderAgent = v
	}
	if v := os.Getenv("MSG_SENDER_CONTACT"); v != "" {
		conv.SenderContact = v
	}
}
