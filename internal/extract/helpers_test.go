package extract

import "github.com/nao1215/bizcrawl/internal/model"

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func newSet(values ...string) model.StringSet {
	return model.NewStringSet(values...)
}
