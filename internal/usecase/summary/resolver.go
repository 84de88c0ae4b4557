package summary

import (
	"context"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"slack-digest-bot/internal/domain"
)

const unknownAuthor = "unknown"

var mentionPattern = regexp.MustCompile(`<@([UW][A-Z0-9]+)(?:\|[^>]*)?>`)

// Resolver подставляет имена авторов. Кэш живёт один прогон.
type Resolver struct {
	lookup    domain.IdentityLookup
	log       zerolog.Logger
	names     map[string]string
	directory map[string]string
	ambiguous map[string]struct{}
}

// NewResolver создаёт резолвер для одного прогона.
func NewResolver(lookup domain.IdentityLookup, logger zerolog.Logger) *Resolver {
	return &Resolver{
		lookup:    lookup,
		log:       logger,
		names:     make(map[string]string),
		directory: make(map[string]string),
		ambiguous: make(map[string]struct{}),
	}
}

// Resolve возвращает отображаемое имя. При ошибке поиска возвращает сам идентификатор.
func (r *Resolver) Resolve(ctx context.Context, authorID string) string {
	if authorID == "" {
		return unknownAuthor
	}
	if name, ok := r.names[authorID]; ok {
		return name
	}
	name, err := r.lookup.DisplayName(ctx, authorID)
	if err != nil || strings.TrimSpace(name) == "" {
		r.log.Warn().Err(err).Str("author_id", authorID).Msg("resolver: имя не найдено, используем идентификатор")
		r.names[authorID] = authorID
		return authorID
	}
	name = strings.TrimSpace(name)
	r.names[authorID] = name
	r.index(name, authorID)
	return name
}

// ResolveAll заполняет имена авторов и заменяет упоминания <@U123> на @Имя.
// Исходный текст сообщения не меняется.
func (r *Resolver) ResolveAll(ctx context.Context, messages []domain.Message) []domain.Message {
	out := make([]domain.Message, len(messages))
	for i, msg := range messages {
		msg.AuthorDisplayName = r.Resolve(ctx, msg.AuthorID)
		if rewritten := r.rewriteMentions(ctx, msg.RawText); rewritten != msg.RawText {
			msg.NormalizedText = rewritten
		}
		out[i] = msg
	}
	return out
}

func (r *Resolver) rewriteMentions(ctx context.Context, text string) string {
	return mentionPattern.ReplaceAllStringFunc(text, func(match string) string {
		sub := mentionPattern.FindStringSubmatch(match)
		return "@" + r.Resolve(ctx, sub[1])
	})
}

// Directory возвращает индекс имя → идентификатор (полное имя и имя без фамилии, в нижнем регистре).
func (r *Resolver) Directory() map[string]string {
	out := make(map[string]string, len(r.directory))
	for name, id := range r.directory {
		out[name] = id
	}
	return out
}

func (r *Resolver) index(name, id string) {
	full := strings.ToLower(name)
	r.put(full, id)
	if first, _, ok := strings.Cut(full, " "); ok && first != "" {
		r.put(first, id)
	}
}

func (r *Resolver) put(key, id string) {
	if _, ok := r.ambiguous[key]; ok {
		return
	}
	if existing, ok := r.directory[key]; ok && existing != id {
		delete(r.directory, key)
		r.ambiguous[key] = struct{}{}
		return
	}
	r.directory[key] = id
}
