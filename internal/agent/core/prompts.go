package core

import (
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/deeres/internal/llm"
)

var (
	queriesSchema = llm.Schema{
		Name:         "queries",
		Instructions: `Return JSON shaped as {"queries": [{"search_query": "..."}]}.`,
	}
	sectionsSchema = llm.Schema{
		Name: "sections",
		Instructions: `Return JSON shaped as {"sections": [{"name": "...", "description": "...", ` +
			`"research": true, "content": ""}]}. Every section needs a unique name.`,
	}
	reviewSchema = llm.Schema{
		Name: "feedback",
		Instructions: `Return JSON shaped as {"grade": "pass" | "fail", ` +
			`"follow_up_queries": [{"search_query": "..."}]}.`,
	}
)

type queriesOutput struct {
	Queries []SearchQuery `json:"queries"`
}

type sectionsOutput struct {
	Sections []Section `json:"sections"`
}

func planQueriesPrompt(topic, structure string, n int) (string, string) {
	system := fmt.Sprintf(`You are an expert technical writer helping to plan a report.

<Report topic>
%s
</Report topic>

<Report organization>
%s
</Report organization>

Generate %d web search queries that gather the information needed to plan the sections of the report.
The queries should relate to the topic and help satisfy the requested organization. Make them specific
enough to find high-quality, relevant sources.`, topic, structure, n)
	return system, "Generate search queries that will help with planning the sections of the report."
}

func planSectionsPrompt(topic, structure, context, feedback string) (string, string) {
	var fb string
	if strings.TrimSpace(feedback) != "" {
		fb = fmt.Sprintf("\n<Feedback>\nRevise the previous plan using this reviewer feedback:\n%s\n</Feedback>\n", feedback)
	}
	system := fmt.Sprintf(`You are planning the sections of a concise, focused report.

<Report topic>
%s
</Report topic>

<Report organization>
%s
</Report organization>

<Context>
Use this context to plan the sections:
%s
</Context>
%s
Each section must have:
- name: the section title
- description: a short overview of what the section covers
- research: whether web research is needed for this section
- content: leave empty

Introductions and conclusions normally draw on the researched sections and do not need research.
Avoid overlapping sections and filler.`, topic, structure, context, fb)
	user := "Generate the sections of the report. Each section must have: name, description, research " +
		"(boolean indicating if research is needed), and content fields. " +
		"Format your response as a valid JSON object containing a 'sections' array."
	return system, user
}

func sectionQueriesPrompt(topic, sectionTopic string, n int) (string, string) {
	system := fmt.Sprintf(`You are writing targeted web search queries for one section of a technical report.

<Report topic>
%s
</Report topic>

<Section topic>
%s
</Section topic>

Generate %d search queries that cover different aspects of the section topic, including technical
details, recent developments and authoritative sources.`, topic, sectionTopic, n)
	return system, "Generate search queries on the provided topic."
}

const sectionWriterSystem = `You are an expert technical writer completing one section of a report.

Guidelines:
1. Keep the section between 150 and 200 words, written in plain, direct language.
2. Start with the single most important insight in bold.
3. Use at most one structural element (a short list or a small table) and only when it helps.
4. Ground every claim in the provided sources and do not invent facts.
5. End with a "### Sources" list of the URLs used, each on its own line as "- Title : URL".
6. If existing content is provided, improve and extend it instead of starting over.`

func sectionWriterInputs(topic, name, sectionTopic, context, existing string) string {
	if existing == "" {
		existing = "[No existing content]"
	}
	return fmt.Sprintf(`<Report topic>
%s
</Report topic>

<Section name>
%s
</Section name>

<Section topic>
%s
</Section topic>

<Existing section content>
%s
</Existing section content>

<Source material>
%s
</Source material>`, topic, name, sectionTopic, existing, context)
}

func gradePrompt(topic, sectionTopic, content string, n int) (string, string) {
	system := fmt.Sprintf(`Review a report section for how well it covers its topic.

<Report topic>
%s
</Report topic>

<Section topic>
%s
</Section topic>

<Section content>
%s
</Section content>

Grade the section "pass" when it is accurate and covers the section topic well, otherwise "fail".
When it fails, provide up to %d follow-up search queries that would fill the missing information.`,
		topic, sectionTopic, content, n)
	user := "Grade the report and consider follow-up questions for missing information. " +
		"If the grade is 'pass', return empty strings for all follow-up queries. " +
		"If the grade is 'fail', provide specific search queries to gather missing information."
	return system, user
}

func finalSectionPrompt(topic, name, sectionTopic, context string) (string, string) {
	system := fmt.Sprintf(`You are an expert technical writer crafting a section that synthesizes the rest of the report.

<Report topic>
%s
</Report topic>

<Section name>
%s
</Section name>

<Section topic>
%s
</Section topic>

<Available report content>
%s
</Available report content>

For an introduction: use "# " for the report title, keep it to 50-100 words, and give the motivation
for the report without lists or tables.
For a conclusion or summary: use "## " for the heading, keep it to 100-150 words, and include at most
one structural element that distills the researched sections.
Do not add a sources list.`, topic, name, sectionTopic, context)
	return system, "Generate a report section based on the provided sources."
}
