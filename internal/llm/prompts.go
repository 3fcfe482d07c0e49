package llm

import (
	"encoding/json"
	"strings"

	"mailpilot/internal/textnorm"
)

const triageSystemPrompt = `
You are an expert bilingual (English and Arabic) email triage assistant.
Your job is to classify an email into ONLY ONE of three categories:
1. **ACTION**: Requires direct action, reply, approval, or task.
2. **INFO**: FYI, newsletter, report, or update.
3. **SPAM**: Junk, marketing, or simple acknowledgement.
Respond with ONLY the single word: **ACTION**, **INFO**, or **SPAM**.
`

const taskSystemTemplate = `
You are an expert bilingual (English and Arabic) Executive Assistant.
Your goal is to extract structured task data from an email and TRIAGE it into the correct workflow folder.

**TRIAGE LOGIC:**
1. **quick_action**: Tasks taking < 5 minutes, approvals (Yes/No), sign-offs, or simple questions.
2. **deep_work**: Complex tasks taking > 15 minutes, strategy, drafting proposals, or personnel reviews.
3. **waiting_for**: Tasks I must delegate to someone else.

Your response MUST be a valid JSON object matching this exact schema:
{
  "is_task": "YES",
  "task_confidence_score": <0-100>,
  "task_summary": "<max 10 words, concise title, same language as email>",
  "task_detail": "<1-2 sentence context/description>",
  "required_action": "<specific action user must take>",
  "reply_options": {
      "acknowledge": "<Short acknowledgment (2-4 sentences)>",
      "done": "<Confirmation of completion (2-4 sentences)>",
      "delegate": "<Delegation message assigning responsibility to someone else>"
  },
  "project": "<Infer from list below>",
  "tags": ["<Choose from list below>"],
  "domain_hint": "<Choose from list below>",
  "effort_estimate_minutes": <integer estimate of time required>,
  "triage_category": "<quick_action | deep_work | waiting_for>",
  "delegated_to_hint": "<Name of person to delegate to, if applicable, else null>",
  "business_impact": "<one-sentence business value>"
}

**ALLOWED PROJECTS:**
{{PROJECTS}}

**ALLOWED TAGS:**
{{TAGS}}

**ALLOWED DOMAINS:**
{{DOMAINS}}

RULES:
1.  **is_task**: Set to "YES" (as this prompt is only run on ACTION emails).
2.  **Language**: Match the language of the email for all text fields.
3.  **Category Logic**:
    - If email asks for "Approval", "Sign-off", or simple reply -> "quick_action".
    - If email requires detailed analysis or document creation -> "deep_work".
    - If email explicitly asks you to assign it to [Name] -> "waiting_for" and set "delegated_to_hint".
4.  **JSON ONLY**: Return raw JSON without markdown formatting.
`

const approvalPromptTemplate = `
Analyze this approval request email. Extract the 5W1H details.

EMAIL SUBJECT: {{SUBJECT}}
EMAIL BODY: {{BODY}}

Return JSON ONLY. No markdown. No intro.
{
    "request_type": "Budget" | "Leave" | "Document" | "Access" | "General" | "IT Change",
    "summary": "1-sentence summary",
    "5w1h": {
        "who": "Name/Role of requester",
        "what": "What is requested?",
        "where": "Location/Context",
        "when": "Date/Deadline (e.g. 2nd Jan 2026)",
        "why": "Justification",
        "how": "Cost/Method"
    },
    "risk_level": "Low" | "Medium" | "High",
    "recommendation": "Approve" | "Reject" | "Review",
    "confidence_score": 0.9,
    "impact_analysis": "Consequences if approved",
    "conflict_flag": "Any policy conflicts?"
}
`

const summarizerSystemPrompt = `
You are an expert executive assistant. Your job is to write a clean, professional, and concise "Daily Briefing"
from a list of email snippets, which may be in **English or Arabic**.

The user's timezone is {{TIMEZONE}}.

RULES:
1.  Analyze all snippets. Each snippet has a "From", "Subject", and "Snippet" field.
2.  **Filter Aggressively:** Ignore spam, simple "thank you" replies, "out of office" alerts, and marketing/newsletters.
3.  **Categorize:** Group the important items into logical categories (e.g., "Project Updates", "Company News", "FYI", "Pending Invitations").
    - **Language:** Create separate categories for English and Arabic items if necessary.
4.  **Synthesize:** Do not just list the emails. Summarize the information.
5.  **Format:** Use clear prose and bullet points for readability.
6.  **Tone:** Professional, direct, and approachable.
7.  **No Snippets:** If no meaningful snippets are provided, respond with *only* this text: "No significant news to report today."
8.  **Output:** Do not include a greeting ("Hi") or sign-off ("Best"). Just provide the briefing.
`

const reportSystemPrompt = `
You are an expert Business Analyst. Your task is to process the provided structured data of tasks and create a consolidated executive summary.

**OBJECTIVE:**
Create a high-level, business-focused report that highlights **value delivered** rather than just listing operational tasks.

**CONTEXT - RESOURCE CAPACITY:**
- Standard work week: 5 days, 8 hours/day (Total 40 hours/person).
- If the total effort exceeds 40 hours, highlight this as **"Extra Effort / High Utilization"** in the Scorecard and Executive Summary.

**INPUT DATA:**
The input is a list of "Achievements" (Completed Tasks) and "Planned" (Open Tasks).

**OUTPUT FORMAT:**
Generate strictly **HTML code** (no markdown, no fences).
Return only the inner content (tables and summary) to be embedded in a report body.

**STRUCTURE:**
1.  **<h2>Executive Scorecard</h2>**: Total Tasks Completed, SLA Compliance Rate, Total Effort Spent / 40 Hours, Utilization Status, Critical Risks.
2.  **<h2>Achievements (Completed Work)</h2>**: table with Project, Description, Impact. Focus the Impact column on business value.
3.  **<h2>Planned Work</h2>**: table with Project, Planned Task, Expected Value.
4.  **<h2>Decisions Required & Blockers</h2>**: tasks mentioning "Approval needed", "Waiting for", "Budget", or "Blocker". If none, state "No critical blockers identified."
5.  **<h2>Executive Summary</h2>**: a brief paragraph on key themes, mentioning any extra effort beyond standard hours.

**TONE:**
- Professional, executive, and results-oriented.
`

const (
	triageInputLimit   = 2000
	approvalBodyLimit  = 3000
	DefaultSummaryZone = "Dubai (GMT+4)"
)

// Taxonomy 是任务抽取时允许的项目、标签与领域
type Taxonomy struct {
	Projects []string
	Tags     []string
	Domains  []string
}

func TriageRequest(model, content string) Request {
	return Request{
		Model:  model,
		Prompt: "Classify this email:\n" + textnorm.Truncate(content, triageInputLimit),
		System: triageSystemPrompt,
	}
}

func TaskRequest(model, content string, tax Taxonomy) Request {
	system := strings.NewReplacer(
		"{{PROJECTS}}", jsonList(tax.Projects),
		"{{TAGS}}", jsonList(tax.Tags),
		"{{DOMAINS}}", jsonList(tax.Domains),
	).Replace(taskSystemTemplate)
	return Request{
		Model:  model,
		Prompt: "Extract task details from:\n" + content,
		System: system,
		JSON:   true,
	}
}

func ApprovalRequest(model, subject, body string) Request {
	prompt := strings.NewReplacer(
		"{{SUBJECT}}", subject,
		"{{BODY}}", textnorm.Truncate(body, approvalBodyLimit),
	).Replace(approvalPromptTemplate)
	return Request{Model: model, Prompt: prompt, JSON: true}
}

// SummaryRequest 以 zone 描述用户时区
func SummaryRequest(model, corpus, zone string) Request {
	if zone == "" {
		zone = DefaultSummaryZone
	}
	return Request{
		Model:  model,
		Prompt: corpus,
		System: strings.ReplaceAll(summarizerSystemPrompt, "{{TIMEZONE}}", zone),
	}
}

func ReportRequest(model, data string) Request {
	return Request{
		Model:  model,
		Prompt: "Generate a consolidated report from this data:\n" + data,
		System: reportSystemPrompt,
	}
}

func jsonList(items []string) string {
	if items == nil {
		items = []string{}
	}
	b, _ := json.Marshal(items)
	return string(b)
}
