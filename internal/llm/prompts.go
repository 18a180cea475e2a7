package llm

const summarizePrompt = `You are a conversation summarizer for an agent's long-term memory. Condense the following exchange into one or two sentences that preserve anything worth recalling later: decisions, preferences, facts about people or projects, and outcomes.

Exchange:
%s

Respond with ONLY the summary text. No explanation, no formatting.`
