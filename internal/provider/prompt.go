package provider

import (
	"fmt"
	"sort"
)

// LanguageNames maps supported language codes to the display names used in
// prompt construction. This is the default allowed set for request
// validation; deployments may restrict it via configuration.
var LanguageNames = map[string]string{
	"en": "English",
	"th": "Thai",
	"zh": "Chinese",
	"ja": "Japanese",
	"ko": "Korean",
	"es": "Spanish",
	"fr": "French",
	"de": "German",
	"it": "Italian",
	"pt": "Portuguese",
	"ru": "Russian",
	"ar": "Arabic",
}

// LanguageCodes returns the supported language codes in sorted order.
func LanguageCodes() []string {
	codes := make([]string, 0, len(LanguageNames))
	for code := range LanguageNames {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// buildPrompt renders the copywriting instruction for the given language
// code. Unknown codes fall back to English.
func buildPrompt(language string) string {
	name, ok := LanguageNames[language]
	if !ok {
		name = "English"
	}

	return fmt.Sprintf(`Analyze this product image and act as an expert e-commerce copywriter.
Generate ALL content in %[1]s language.

Return a JSON object with exactly three keys:
- 'title': A catchy, SEO-friendly product name in %[1]s (max 60 characters)
- 'description': A compelling 2-3 sentence product description in %[1]s highlighting key features and benefits
- 'tags': A list of exactly 5 relevant keywords/tags in %[1]s for search optimization

IMPORTANT:
- ALL text content must be written in %[1]s
- Use natural, native %[1]s expressions and terminology
- Make sure the response is valid JSON format only, no additional text
- Do not mix languages - everything should be in %[1]s`, name)
}
