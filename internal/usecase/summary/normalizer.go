package summary

import (
	"context"
	"unicode"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"slack-digest-bot/internal/domain"
	"slack-digest-bot/internal/infra/metrics"
)

// Коды языков, которые проставляются в Message.Language.
const (
	LangJapanese = "ja"
	LangEnglish  = "en"
)

const translateParallelism = 4

// DetectLanguage определяет японский текст по письменности: есть кана
// или иероглифы составляют не меньше половины букв.
func DetectLanguage(text string) string {
	var kana, han, letters int
	for _, r := range text {
		switch {
		case unicode.In(r, unicode.Hiragana, unicode.Katakana):
			kana++
			letters++
		case unicode.Is(unicode.Han, r):
			han++
			letters++
		case unicode.IsLetter(r):
			letters++
		}
	}
	if kana > 0 {
		return LangJapanese
	}
	if letters > 0 && han*2 >= letters {
		return LangJapanese
	}
	return LangEnglish
}

// Normalizer переводит японские сообщения на английский.
type Normalizer struct {
	translator domain.Translator
	log        zerolog.Logger
}

// NewNormalizer создаёт нормализатор.
func NewNormalizer(translator domain.Translator, logger zerolog.Logger) *Normalizer {
	return &Normalizer{translator: translator, log: logger}
}

// Normalize возвращает сообщения в том же порядке и количестве. Если перевод не удался,
// сообщение остаётся на исходном языке.
func (n *Normalizer) Normalize(ctx context.Context, messages []domain.Message) []domain.Message {
	out := make([]domain.Message, len(messages))
	copy(out, messages)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(translateParallelism)
	for i := range out {
		msg := &out[i]
		source := msg.Text()
		msg.Language = DetectLanguage(source)
		if msg.Language != LangJapanese {
			msg.NormalizedText = source
			continue
		}
		g.Go(func() error {
			translated, err := n.translator.Translate(gctx, source, LangJapanese)
			if err != nil {
				metrics.IncTranslation("failed")
				n.log.Warn().Err(err).Str("message_id", msg.ID).Msg("normalizer: перевод не удался, оставляем исходный текст")
				msg.NormalizedText = source
				return nil
			}
			metrics.IncTranslation("ok")
			msg.NormalizedText = translated
			msg.IsTranslated = true
			return nil
		})
	}
	_ = g.Wait()
	return out
}
