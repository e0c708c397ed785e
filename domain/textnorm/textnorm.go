// Package textnorm normalizes titles before hashing and embedding.
//
// The noise-token list and the splitting rules are part of the embedding
// version contract: changing anything here must bump Revision so that
// every stored hash is invalidated and rows are re-embedded.
package textnorm

import (
	"regexp"
	"strings"
)

// Revision tags the normalization rules. It is folded into the embedding
// version string so hash comparisons stay sound across deployments.
const Revision = "n2"

// noiseTokens are release-name artifacts (resolution, codec, container,
// rip source) that carry no semantic signal for retrieval.
var noiseTokens = map[string]struct{}{
	"720p": {}, "1080p": {}, "2160p": {}, "4k": {}, "8k": {},
	"x264": {}, "x265": {}, "h264": {}, "h265": {}, "hevc": {}, "avc": {},
	"aac": {}, "ac3": {}, "dts": {}, "flac": {}, "mp3": {},
	"mkv": {}, "mp4": {}, "avi": {}, "wmv": {}, "ts": {}, "iso": {},
	"bluray": {}, "blu-ray": {}, "bdrip": {}, "brrip": {}, "webrip": {},
	"web-dl": {}, "webdl": {}, "hdtv": {}, "dvdrip": {}, "hdrip": {},
	"remux": {}, "proper": {}, "repack": {}, "internal": {},
	"hdr": {}, "hdr10": {}, "dv": {}, "10bit": {}, "8bit": {},
}

var (
	separatorRe  = regexp.MustCompile(`[._\[\]{}()【】（）]+`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// Normalize strips noise tokens and collapses separators, producing the
// canonical embedding input for a raw title or search text.
func Normalize(text string) string {
	if text == "" {
		return ""
	}
	s := separatorRe.ReplaceAllString(text, " ")
	fields := strings.Fields(s)
	kept := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, noisy := noiseTokens[strings.ToLower(f)]; noisy {
			continue
		}
		// Release groups ride hyphenated after the codec, as in
		// "x264-GROUP". Hyphenated noise like "web-dl" matched above
		// as a whole token, so a noisy left half here means the rest
		// is the group name.
		if left, rest, cut := strings.Cut(f, "-"); cut {
			if _, noisy := noiseTokens[strings.ToLower(left)]; noisy {
				if rest != "" {
					kept = append(kept, rest)
				}
				continue
			}
		}
		kept = append(kept, f)
	}
	return whitespaceRe.ReplaceAllString(strings.Join(kept, " "), " ")
}

// Clean trims a user query down to its searchable core. Unlike Normalize
// it keeps every token; it only removes leading/trailing space and
// collapses runs of whitespace.
func Clean(query string) string {
	return whitespaceRe.ReplaceAllString(strings.TrimSpace(query), " ")
}

// IsASCII reports whether s contains only ASCII runes.
func IsASCII(s string) bool {
	for _, r := range s {
		if r > 127 {
			return false
		}
	}
	return true
}

// akaSplitRe matches the delimiters used in enrichment aka/keyword
// columns. Whitespace is deliberately not a delimiter so multi-word
// titles survive splitting.
var akaSplitRe = regexp.MustCompile(`[,，;/·|\n]+`)

// SplitTerms splits an enrichment aka or keywords column into individual
// terms, dropping empties.
func SplitTerms(s string) []string {
	if s == "" {
		return nil
	}
	parts := akaSplitRe.Split(s, -1)
	terms := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			terms = append(terms, t)
		}
	}
	return terms
}

// genreMap maps Chinese genre words appearing in queries to the genre
// labels stored on vector payloads.
var genreMap = []struct {
	key    string
	labels []string
}{
	{"惊悚", []string{"惊悚", "Thriller"}},
	{"恐怖", []string{"恐怖", "Horror"}},
	{"悬疑", []string{"悬疑", "Mystery"}},
	{"动作", []string{"动作", "Action"}},
	{"科幻", []string{"科幻", "Science Fiction"}},
	{"犯罪", []string{"犯罪", "Crime"}},
	{"爱情", []string{"爱情", "Romance"}},
	{"喜剧", []string{"喜剧", "Comedy"}},
	{"剧情", []string{"剧情", "Drama"}},
	{"冒险", []string{"冒险", "Adventure"}},
	{"动画", []string{"动画", "Animation"}},
	{"奇幻", []string{"奇幻", "Fantasy"}},
	{"战争", []string{"战争", "War"}},
	{"纪录", []string{"纪录", "Documentary"}},
	{"家庭", []string{"家庭", "Family"}},
	{"音乐", []string{"音乐", "Music"}},
	{"历史", []string{"历史", "History"}},
	{"西部", []string{"西部", "Western"}},
}

// ExtractGenres returns the payload genre labels implied by a query,
// deduplicated in first-seen order.
func ExtractGenres(query string) []string {
	var hits []string
	seen := make(map[string]struct{})
	for _, g := range genreMap {
		if !strings.Contains(query, g.key) {
			continue
		}
		for _, label := range g.labels {
			if _, dup := seen[label]; dup {
				continue
			}
			seen[label] = struct{}{}
			hits = append(hits, label)
		}
	}
	return hits
}

// staticExpansions maps Chinese query words to fixed bilingual synonyms
// appended before embedding. Applied ahead of enrichment-backed
// expansion.
var staticExpansions = []struct {
	key   string
	terms []string
}{
	{"电影", []string{"影片", "movie", "film"}},
	{"影片", []string{"电影", "movie", "film"}},
	{"惊悚", []string{"thriller"}},
	{"恐怖", []string{"horror"}},
	{"悬疑", []string{"mystery"}},
	{"爱情", []string{"romance"}},
	{"喜剧", []string{"comedy"}},
	{"科幻", []string{"sci-fi", "science fiction"}},
	{"动作", []string{"action"}},
	{"战争", []string{"war"}},
	{"动画", []string{"animation", "cartoon"}},
	{"纪录", []string{"documentary"}},
	{"犯罪", []string{"crime"}},
	{"奇幻", []string{"fantasy"}},
	{"冒险", []string{"adventure"}},
	{"剧情", []string{"drama"}},
	{"家庭", []string{"family"}},
	{"音乐", []string{"music"}},
	{"历史", []string{"history"}},
	{"西部", []string{"western"}},
	{"剧集", []string{"series", "tv", "show"}},
	{"电视剧", []string{"tv", "series", "drama"}},
}

// fileTypeMap maps query words to the file_type payload label. Ordered
// so the first match wins.
var fileTypeMap = []struct {
	key   string
	label string
}{
	{"视频", "video"},
	{"影片", "video"},
	{"电影", "video"},
	{"音频", "audio"},
	{"音乐", "audio"},
	{"字幕", "subtitle"},
	{"图片", "image"},
	{"压缩", "archive"},
}

// ExtractFileType returns the file_type label implied by the query, or
// "" when no file-type word appears.
func ExtractFileType(query string) string {
	for _, ft := range fileTypeMap {
		if strings.Contains(query, ft.key) {
			return ft.label
		}
	}
	return ""
}

// langMap maps language codes to the words that imply them in a query.
var langMap = []struct {
	code string
	keys []string
}{
	{"zh", []string{"中文", "国语", "简体", "繁体", "chinese", "chs", "cht", "chi", "mandarin"}},
	{"en", []string{"英文", "英语", "english", "eng"}},
	{"jp", []string{"日语", "日文", "japanese", "jpn"}},
	{"kr", []string{"韩语", "韩文", "korean", "kor"}},
	{"fr", []string{"法语", "french", "fre"}},
	{"de", []string{"德语", "german", "ger"}},
	{"es", []string{"西语", "西班牙", "spanish", "spa"}},
	{"ru", []string{"俄语", "russian", "rus"}},
}

// subtitleKeys mark a query as asking for subtitles rather than audio.
var subtitleKeys = []string{"字幕", "中字", "双语", "sub", "subs", "subtitle"}

// DetectLanguages returns the audio and subtitle language codes implied
// by a query. A subtitle word narrows the request to subtitles only;
// otherwise a language word implies both audio and subtitles.
func DetectLanguages(query string) (audio, subtitles []string) {
	if query == "" {
		return nil, nil
	}
	lower := strings.ToLower(query)
	isSubtitle := false
	for _, k := range subtitleKeys {
		if strings.Contains(lower, k) {
			isSubtitle = true
			break
		}
	}
	for _, lang := range langMap {
		matched := false
		for _, k := range lang.keys {
			if strings.Contains(lower, k) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		if isSubtitle {
			subtitles = append(subtitles, lang.code)
		} else {
			audio = append(audio, lang.code)
			subtitles = append(subtitles, lang.code)
		}
	}
	return audio, subtitles
}

// ExpandStatic appends fixed synonyms for recognized query words,
// deduplicating while preserving order. The query itself is always the
// first token.
func ExpandStatic(query string) string {
	if query == "" {
		return query
	}
	tokens := []string{query}
	seen := map[string]struct{}{query: {}}
	for _, e := range staticExpansions {
		if !strings.Contains(query, e.key) {
			continue
		}
		for _, t := range e.terms {
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			tokens = append(tokens, t)
		}
	}
	return strings.Join(tokens, " ")
}
