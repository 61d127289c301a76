package translate

import (
	"context"
	"time"

	"glot/infer"
	"glot/log"
)

// Result is a finished translation from either path.
type Result struct {
	Text    string
	Elapsed time.Duration
}

// Local runs text through the locally-loaded translation model. Unlike
// recognition it carries no single-flight gate: overlapping calls are
// allowed and must never block the recognizer.
type Local struct {
	tok          infer.Tokenizer
	model        infer.Model
	maxNewTokens int
}

func NewLocal(sess *infer.Session, maxNewTokens int) *Local {
	return &Local{tok: sess.Tokenizer, model: sess.Model, maxNewTokens: maxNewTokens}
}

// Translate converts text between the given short language codes. On any
// failure it returns the Sentinel text instead of an error, so callers
// never need failure handling at the call site.
func (l *Local) Translate(ctx context.Context, text, sourceLang, targetLang string) Result {
	start := time.Now()

	ids := l.tok.Encode(text)
	bos, ok := l.tok.LangToken(Tag(targetLang))
	if !ok {
		// Tag() already guarantees a table hit or the fallback; a missing
		// vocabulary entry means the model itself is unusable.
		log.Errorf("local translate: no vocab token for tag %s", Tag(targetLang))
		return Result{Text: Sentinel, Elapsed: time.Since(start)}
	}

	out, err := l.model.Generate(ctx, ids, infer.GenerateOptions{
		MaxNewTokens:   l.maxNewTokens,
		Language:       Tag(sourceLang),
		ForcedBOSToken: bos,
	}, nil)
	if err != nil {
		log.Errorf("local translate (%s -> %s): %v", sourceLang, targetLang, err)
		return Result{Text: Sentinel, Elapsed: time.Since(start)}
	}
	return Result{Text: l.tok.Decode(out), Elapsed: time.Since(start)}
}
