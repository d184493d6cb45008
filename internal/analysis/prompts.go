package analysis

import (
	"fmt"
	"strings"

	"github.com/xiaodongyu/Job-fit-engine/internal/types"
)

// roleFitSystem 岗位匹配分析的system prompt。接地规则是硬约束，
// 模型只允许引用喂进去的证据chunk。
const roleFitSystem = `You are a career advisor analyzing resume-to-role fit.

CRITICAL GROUNDING RULES:
1. ONLY use the provided RESUME EVIDENCE chunks. Do NOT fabricate skills or experiences.
2. ONLY use the provided JD EVIDENCE chunks for requirements. Do NOT invent requirements.
3. Score must reflect ACTUAL overlap between resume evidence and JD requirements.
4. Reasons must cite specific evidence from the provided chunks.
5. If information is unclear or missing, add to ask_user_questions. Do NOT guess.

Analyze and return structured JSON.`

// resumeGenerateSystem 定制简历生成的system prompt
const resumeGenerateSystem = `You are a professional resume writer creating a tailored resume.

CRITICAL GROUNDING RULES:
1. ONLY include content DIRECTLY supported by the provided RESUME EVIDENCE.
2. Do NOT fabricate, embellish, or infer skills/experiences not in evidence.
3. If a JD requirement cannot be matched to resume evidence, add it to need_info.
4. Tailor language to match JD keywords, but NEVER add false claims.

RESUME WRITING STYLE:
- Use strong action verbs (Led, Developed, Implemented, Optimized, Designed, etc.)
- Write concise, impactful bullets
- Quantify impact when numbers are present in evidence (e.g., "increased performance by 40%")
- Tailor wording to target role and JD requirements
- Keep bullets professional and achievement-focused

OUTPUT STRUCTURE (required sections):
1. education: List of education entries from evidence
2. experience: List of experience bullets from evidence
3. skills: List of skills mentioned in evidence

Return structured JSON with these exact sections.`

func roleFitSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"recommended_roles": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"role":    map[string]any{"type": "string"},
						"score":   map[string]any{"type": "number"},
						"reasons": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					},
					"required": []string{"role", "score", "reasons"},
				},
			},
			"requirements": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"must_have":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"nice_to_have": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				},
				"required": []string{"must_have", "nice_to_have"},
			},
			"gap": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"matched":            map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"missing":            map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"ask_user_questions": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				},
				"required": []string{"matched", "missing", "ask_user_questions"},
			},
		},
		"required": []string{"recommended_roles", "requirements", "gap"},
	}
}

func resumeGenerateSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"education": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Education entries from resume evidence",
			},
			"experience": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Experience bullets with action verbs",
			},
			"skills": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Skills extracted from evidence",
			},
			"need_info": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "JD requirements not found in resume evidence",
			},
		},
		"required": []string{"education", "experience", "skills", "need_info"},
	}
}

// renderChunks 把证据渲染成 [chunk_id] text 段落，模型引用时按id回指
func renderChunks(chunks []types.EvidenceChunk) string {
	parts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		parts = append(parts, fmt.Sprintf("[%s] %s", c.ChunkID, c.Text))
	}
	return strings.Join(parts, "\n\n")
}

func buildFitPrompt(resumeChunks, jdChunks []types.EvidenceChunk, targetRole types.RoleType) string {
	return fmt.Sprintf(`TARGET ROLE: %s

=== RESUME EVIDENCE ===
%s

=== JD EVIDENCE ===
%s

Analyze the fit between this candidate and the target role.
Extract requirements ONLY from JD evidence.
Match/gap analysis based ONLY on resume evidence.
Return JSON with recommended_roles, requirements, and gap.`,
		targetRole, renderChunks(resumeChunks), renderChunks(jdChunks))
}

func buildGeneratePrompt(resumeChunks, jdChunks []types.EvidenceChunk, targetRole types.RoleType) string {
	return fmt.Sprintf(`TARGET ROLE: %s

=== RESUME EVIDENCE (use ONLY this for content) ===
%s

=== JD EVIDENCE (align wording to these, do NOT invent facts) ===
%s

Generate a structured resume with EXACTLY these sections:

1. EDUCATION: Extract education entries from resume evidence
2. EXPERIENCE: Create impactful bullets using action verbs, quantify when data available
3. SKILLS: List relevant skills from resume evidence

Rules:
- Content must come from RESUME EVIDENCE only
- Tailor wording to JD but do NOT add claims not in evidence
- Use strong action verbs: Led, Developed, Implemented, Designed, Optimized, etc.
- If JD requires something not in evidence, add to need_info

Return JSON with: education[], experience[], skills[], need_info[]`,
		targetRole, renderChunks(resumeChunks), renderChunks(jdChunks))
}
