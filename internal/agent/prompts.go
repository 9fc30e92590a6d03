package agent

import (
	"fmt"
	"slices"
	"strings"

	"github.com/ashureev/viso-labs/internal/lesson"
)

func composeInstruction(req lesson.PromptRequest, styleInstruction string) string {
	style := req.ImageStyle
	lower := strings.ToLower(style)
	return fmt.Sprintf(`Your task is to create an EXCEPTIONAL image generation prompt that will produce an educational image.
PARAMETERS:
- Difficulty: %[1]s
- Person's Age: %[2]s
- Autism Level: %[3]s
- Topic Focus: %[4]s
- Treatment Plan: %[5]s
- Image Style: %[6]s
CRITICAL PROMPT REQUIREMENTS:
1. START WITH A CLEAR CONCEPT: Begin with "A %[7]s [scene description]" or "An %[7]s of [scene description]"
2. ULTRA-SPECIFIC VISUAL DETAILS: Include at least 8-10 specific visual elements with clear positions and relationships
3. EXACT COLOR SPECIFICATION: Use precise color terminology (e.g., "pastel mint green" not just "green")
4. LIGHTING DIRECTIVES: Specify lighting quality (e.g., "soft diffused morning light", "dramatic side lighting")
5. CAMERA ANGLE & PERSPECTIVE: Include exact viewing angle (e.g., "eye-level close-up", "overhead view")
6. ARTISTIC STYLE: Reference specific art styles appropriate for autism education reflecting the selected style: %[8]s
7. EMOTIONAL TONE: Explicitly state the emotional quality (e.g., "calm", "joyful", "serene atmosphere")
8. TEXTURE SPECIFICS: Detail textures visible in the image (e.g., "soft plush texture", "smooth polished surface")
9. Realism: Incorporate elements, textures, and lighting to enhance the image's depth according to the %[6]s style.
TECHNICAL REQUIREMENTS:
- Your prompt MUST be at least 150 words long
- Include the exact phrase "high detail, high quality, 4k" in your prompt
- End with a technical directive: "8k resolution, professional %[7]s, masterful composition"
- Add style-appropriate elements for %[6]s imagery
- Ensure the image follows the %[6]s style guidelines
- Ensure the image is not blurry, pixelated, overly saturated, overly bright or dark, or deformed.
- Ensure the image is not overly abstract or overly detailed for the selected style.
TOPIC INTEGRATION:
The image MUST focus primarily on "%[4]s" while incorporating elements from the treatment plan: "%[5]s".
EXAMPLE FORMAT:
"A %[7]s scene of [main subject] with [specific details]. The [subject] is positioned [exact location] with [specific posture/action]. The lighting is [specific lighting description] creating [specific effect]. The background features [specific background elements] in [specific colors]. The foreground includes [specific foreground elements]. The scene conveys a feeling of [emotional quality]. In the style of [specific artistic reference]. High detail, sharp focus, 8k resolution, professional %[7]s, masterful composition."
CREATE YOUR DETAILED PROMPT NOW:`,
		req.Difficulty, req.Age, req.AutismLevel, req.TopicFocus, req.TreatmentPlan, style, lower, styleInstruction)
}

func describeQuery(req lesson.DescriptionRequest) string {
	return fmt.Sprintf(`You are an expert educator specializing in teaching users with autism.
Please provide a detailed description of this image that was generated based on the prompt:
%q
The image is intended for a person with autism, focusing on the topic: %q at a %s difficulty level.
In your description:
1. List all key objects, characters, and elements present in the image
2. Describe colors, shapes, positions, and relationships between elements
3. Note any emotions, actions, or interactions depicted
4. Highlight details that would be important for the child to notice
5. Organize your description in a structured, clear way
6. Do not impose a particular style; use the topic of focus to guide your descriptions
Your description will be used as a reference to evaluate the child's observations,
so please be comprehensive but focus on observable details rather than interpretations.`,
		req.Prompt, req.TopicFocus, req.Difficulty)
}

func detailsQuery(req lesson.DetailRequest) string {
	return fmt.Sprintf(`You are analyzing an educational image created for a person with autism, based on the prompt: %q.
The image focuses on the topic: %q.
Please extract a list of unique key details that a person might identify in this image, minimum 5, max 15 depending on the image.
Each detail should be a simple, clear phrase describing one observable element.
Focus on concrete, visible elements rather than abstract concepts.
Format your response as a JSON array of strings, each representing one key detail.
Example format: ["red ball on the grass", "smiling girl with brown hair", "blue sky with clouds"]
Ensure each detail is:
1. Directly observable in the image
2. Unique (not a duplicate)
3. Described in simple, concrete language
4. Relevant to what a person would notice`,
		req.Prompt, req.TopicFocus)
}

func judgeQuery(req lesson.EvaluationRequest) string {
	var remaining []string
	for _, d := range req.KeyDetails {
		if !slices.Contains(req.IdentifiedDetails, d) {
			remaining = append(remaining, d)
		}
	}

	var history strings.Builder
	for _, e := range req.Chat {
		fmt.Fprintf(&history, "%s: %s\n", e.Speaker, e.Message)
	}

	return fmt.Sprintf(`You are a supportive teacher helping a person with autism (age %s, autism %s) practice describing images.
Treatment plan: %s
Topic focus: %s
Current difficulty: %s

Reference description of the image:
%s

Key details still to find: %s
Key details already found: %s

Conversation so far:
%s
The learner now says: %q

Decide which of the key details still to find the learner has just described. Only use phrases copied exactly from the list of key details still to find.
Reply with one JSON object and nothing else:
{"feedback": "<short, encouraging feedback that gently hints at one missing detail>",
 "newly_identified_details": ["<key detail>", ...],
 "difficulty": "<one of: Very Simple, Simple, Moderate, Detailed, Very Detailed>",
 "should_advance": <true or false>,
 "score": <0 to 100>}`,
		req.Age, req.AutismLevel, req.TreatmentPlan, req.TopicFocus, req.Difficulty,
		req.Description,
		quoteList(remaining), quoteList(req.IdentifiedDetails),
		history.String(), req.Utterance)
}

func quoteList(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	quoted := make([]string, len(items))
	for i, it := range items {
		quoted[i] = fmt.Sprintf("%q", it)
	}
	return strings.Join(quoted, ", ")
}
