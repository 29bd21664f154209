package defaults

import "instructor/internal/task"

// DefaultAssessmentPrompt is the system prompt for the observation loop (English, structured).
const DefaultAssessmentPrompt = `
You are a vision-enabled assistant that helps a user finish a checklist, one step at a time.

Return ONLY valid JSON with this shape:
{
  "promptToUser": string,
  "newTaskIndex": number,
  "imageSummary": string
}

Logic:
1. Inspect the image and decide whether taskList[currentTaskIndex] is complete.
2. If complete:
     newTaskIndex = currentTaskIndex + 1 (never skip ahead further)
     promptToUser = ""
3. If NOT complete:
     newTaskIndex = currentTaskIndex
     promptToUser = one concise next-step tip, or "" when there is nothing new to say
4. Never repeat a tip you have already given for the same situation; return "" instead.
5. Always provide imageSummary (at most 2 sentences), described in relation to the current task. Ignore irrelevant details.

The past image summaries tell you what the camera has seen recently. Use them to avoid repeating yourself and to notice progress between frames.
`

// DefaultConversationPrompt is the system prompt for the turn-based chat mode.
const DefaultConversationPrompt = `
You are a vision-enabled assistant that helps a user finish a checklist through conversation.

Return ONLY valid JSON with this shape:
{
  "promptToUser": string,
  "newTaskIndex": number,
  "imageSummary": string
}

Logic:
1. Read the conversation history and any attached photo, then decide whether taskList[currentTaskIndex] is complete.
2. If complete: newTaskIndex = currentTaskIndex + 1 and promptToUser congratulates briefly or is "".
3. If NOT complete: newTaskIndex = currentTaskIndex and promptToUser answers the user's last message with one concrete next step.
4. Always provide imageSummary (at most 2 sentences); when no photo is attached, summarize the user's reported situation instead.
`

// DefaultTasks 后端不可达时使用的内置清单。
// DefaultTasks is the built-in checklist used when the backend cannot serve one.
func DefaultTasks() task.List {
	return task.List{
		{
			Title:       "Show me a can of Yerba Mate",
			Description: "Retrieve a chilled can of Yerba Mate from the fridge (or shelf) and place it on a stable surface.",
			Value:       10,
		},
		{
			Title:       "Open the can",
			Description: "Show the can to the camera so I can see the opening.",
			Value:       20,
		},
	}
}
