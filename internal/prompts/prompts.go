package prompts

import (
	"fmt"
	"os"
	"strings"
)

const instructionTemplate = `You are a fashion photographer and textile specialist working from reference photos.
Study the attached references and reply with one generation instruction on a single line. Do not explain it.

Reference order:
1) Full view of the lehenga: silhouette, flare, colour distribution.
2) Close-up of the work, if attached: embroidery, stones, thread patterns, borders, texture.
3) Blouse or second garment piece, if attached: cut, neckline, sleeves, stitching.

The instruction must require:
- The lehenga reproduced exactly as referenced. Embroidery placement, stonework, motifs, borders, pleats, colour tone, fabric texture and blouse design stay identical.
- Motif scale and repeat spacing kept as seen in the close-up.
- A photorealistic model wearing the garment, framed head to knee, centred and focused on the lehenga so the detail stays visible.
- Soft natural studio lighting that shows the fabric texture.
- A square 2048x2048 output.

The instruction must forbid:
- Redesigned, recoloured or simplified patterns.
- Added or removed stones, patches or borders.
- A different blouse cut or dupatta drape.
- Text, logos, watermarks or props covering the garment.

Start the instruction with: "Generate a 2048x2048 photorealistic image of a model wearing the exact same lehenga as the references, preserving all listed details." Then add short constraints about zoom and focus.`

// InstructionTemplate returns the built-in template sent ahead of the reference images.
func InstructionTemplate() string {
	return instructionTemplate
}

// LoadInstructionTemplate reads a template override from path. An empty path yields the built-in template.
func LoadInstructionTemplate(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return instructionTemplate, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("prompts: read template: %w", err)
	}
	tmpl := strings.TrimSpace(string(data))
	if tmpl == "" {
		return "", fmt.Errorf("prompts: template %s is empty", path)
	}
	return tmpl, nil
}

// ImagePrompt frames the synthesized instruction for the image model. labels names the
// re-attached references in attachment order, so only the views actually sent are listed.
func ImagePrompt(instruction string, labels []string) string {
	instruction = strings.TrimSpace(instruction)
	if len(labels) == 0 {
		return instruction
	}
	return fmt.Sprintf("%s\nThe %d attached image(s) are the garment references in order: %s. Match them exactly.",
		instruction, len(labels), strings.Join(labels, ", "))
}
