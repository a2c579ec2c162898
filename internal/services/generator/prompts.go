package generator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/brandmill/maestro/internal/interfaces"
	"github.com/brandmill/maestro/internal/models"
)

// systemPrompts map each agent capability to its persona instruction.
var systemPrompts = map[models.AgentType]string{
	models.AgentTypeSEOWriter: `You are an expert SEO content writer with deep knowledge of search engine
optimization, content marketing, and digital strategy. Create high-quality,
engaging content that ranks well while providing value to readers. Research
topics thoroughly, build detailed outlines, place keywords naturally, and
generate meta descriptions, title tags, and FAQs.`,

	models.AgentTypeEmailMarketer: `You are an expert email marketing specialist with deep knowledge of email
campaigns, copywriting, conversion optimization, and marketing automation.
Create compelling copy that drives engagement, optimize subject lines for
open rates, design nurture sequences, keep brand voice consistent, and
always include clear calls-to-action.`,

	models.AgentTypeSocialMedia: `You are an expert social media strategist. Create platform-appropriate
posts, threads, and captions that maximize engagement. Match the platform's
tone, respect its length conventions, and suggest relevant hashtags.`,

	models.AgentTypeAnalyst: `You are a marketing data analyst. Examine the supplied data or content,
identify trends and anomalies, and produce concise actionable findings with
supporting evidence.`,

	models.AgentTypeOptimizer: `You are a conversion optimization specialist. Review the supplied content
and improve its clarity, persuasiveness, and search performance without
changing its factual claims.`,
}

// commandTemplates map agent/command pairs to the user-prompt builder for
// that operation. Unknown pairs fall back to a generic instruction so new
// commands degrade gracefully instead of erroring.
var commandTemplates = map[string]func(params map[string]interface{}) string{
	"seo_writer/research": func(p map[string]interface{}) string {
		return fmt.Sprintf(`Research the topic: %s

Target audience: %s
Depth: %s

Provide:
1. Key themes and subtopics to cover
2. Primary and secondary keywords
3. Competitor content angles worth beating
4. A detailed content outline with H2/H3 structure
5. Suggested title tag and meta description`,
			stringParam(p, "topic", "the requested topic"),
			stringParam(p, "target_audience", "general"),
			stringParam(p, "depth", "medium"))
	},
	"seo_writer/write": func(p map[string]interface{}) string {
		return fmt.Sprintf(`Write a comprehensive article based on this brief:

%s

Requirements:
- Target keyword: %s
- Approximate length: %s words
- Proper heading hierarchy, keyword placement, and internal linking hints
- Meta description and title tag
- FAQ section`,
			stringParam(p, "brief", stringParam(p, "topic", "")),
			stringParam(p, "keyword", "derive from the brief"),
			stringParam(p, "word_count", "1500"))
	},
	"seo_writer/optimize": func(p map[string]interface{}) string {
		return fmt.Sprintf(`Optimize this existing content for search:

%s

Target keyword: %s

Improve keyword placement, readability, and structure. Return the revised
content plus a short list of the changes made.`,
			stringParam(p, "content", ""),
			stringParam(p, "keyword", "derive from the content"))
	},
	"email_marketer/create": func(p map[string]interface{}) string {
		return fmt.Sprintf(`Create a marketing email based on this brief:

%s

Requirements:
- Tone: %s
- An engaging subject line and preview text
- Well-structured body copy with a clear call-to-action
- Professional sign-off`,
			stringParam(p, "brief", ""),
			stringParam(p, "tone", "friendly"))
	},
	"email_marketer/series": func(p map[string]interface{}) string {
		return fmt.Sprintf(`Create an email series based on this brief:

%s

Requirements:
- Number of emails: %s
- Goal: %s
- For each email: subject line, preview text, body, call-to-action, and
  suggested send delay relative to the previous email`,
			stringParam(p, "brief", ""),
			stringParam(p, "num_emails", "3"),
			stringParam(p, "goal", "nurture"))
	},
	"social_media/create": func(p map[string]interface{}) string {
		return fmt.Sprintf(`Create social media content based on this brief:

%s

Platform: %s
Tone: %s

Provide the post copy, suggested hashtags, and an image/visual suggestion.`,
			stringParam(p, "brief", ""),
			stringParam(p, "platform", "linkedin"),
			stringParam(p, "tone", "professional"))
	},
	"analyst/analyze": func(p map[string]interface{}) string {
		return fmt.Sprintf(`Analyze the following and report findings:

%s

Focus: %s

Provide key findings, supporting evidence, and recommended next actions.`,
			stringParam(p, "data", stringParam(p, "content", "")),
			stringParam(p, "focus", "overall performance"))
	},
	"optimizer/optimize": func(p map[string]interface{}) string {
		return fmt.Sprintf(`Improve the following content for conversion and clarity:

%s

Goal: %s

Return the revised content and a summary of changes.`,
			stringParam(p, "content", ""),
			stringParam(p, "goal", "higher engagement"))
	},
}

// buildPrompts resolves the system and user prompts for a request.
func buildPrompts(req *interfaces.GenerationRequest) (system, user string) {
	system = systemPrompts[req.AgentType]

	key := fmt.Sprintf("%s/%s", req.AgentType, req.Command)
	if builder, ok := commandTemplates[key]; ok {
		return system, builder(req.Parameters)
	}

	// Generic fallback keeps unknown commands executable.
	var b strings.Builder
	fmt.Fprintf(&b, "Execute the %q operation with these parameters:\n", req.Command)
	for _, k := range sortedKeys(req.Parameters) {
		fmt.Fprintf(&b, "- %s: %v\n", k, req.Parameters[k])
	}
	return system, b.String()
}

func stringParam(params map[string]interface{}, key, fallback string) string {
	if params == nil {
		return fallback
	}
	if v, ok := params[key]; ok {
		s := strings.TrimSpace(fmt.Sprintf("%v", v))
		if s != "" {
			return s
		}
	}
	return fallback
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
