package mockserver

import (
	"fmt"
	"time"
)

// scriptEvent is one scripted wire event with the pause preceding it
type scriptEvent struct {
	typ     string
	payload map[string]interface{}
	delay   time.Duration
}

// truncate shortens a query for display inside scripted messages
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// script builds the full mock multi-agent run for a query. The sequence
// exercises every event type the client handles: agent lifecycle,
// incremental output, tool call/result pairs, inter-agent messages, and
// the terminal complete event.
func script(query string) []scriptEvent {
	var evts []scriptEvent
	add := func(delay time.Duration, typ string, payload map[string]interface{}) {
		evts = append(evts, scriptEvent{typ: typ, payload: payload, delay: delay})
	}

	// Query analysis
	add(0, "agent_start", map[string]interface{}{"agent": "router"})
	add(0, "message", map[string]interface{}{
		"from": "user", "to": "router",
		"content": fmt.Sprintf("Query: %s", truncate(query, 60)),
	})
	add(300*time.Millisecond, "message", map[string]interface{}{
		"from": "router", "to": "agents",
		"content": "Dispatching to: knowledge, research, explainer",
	})

	// Knowledge agent
	add(200*time.Millisecond, "agent_start", map[string]interface{}{"agent": "knowledge"})
	add(0, "message", map[string]interface{}{
		"from": "router", "to": "knowledge",
		"content": fmt.Sprintf("Search: %s", truncate(query, 40)),
	})
	for _, chunk := range []string{
		"Found 3 relevant documents:\n",
		"• AI Agent Architectures\n",
		"• Multi-Agent Systems\n",
		"• LLM Integration Patterns",
	} {
		add(100*time.Millisecond, "agent_output", map[string]interface{}{"agent": "knowledge", "content": chunk})
	}
	add(0, "agent_complete", map[string]interface{}{"agent": "knowledge", "duration": 0.8, "tokens": 156})
	add(0, "message", map[string]interface{}{
		"from": "knowledge", "to": "synthesizer", "content": "Found 3 documents",
	})

	// Research agent with tool calls
	add(200*time.Millisecond, "agent_start", map[string]interface{}{"agent": "research"})
	add(0, "tool_call", map[string]interface{}{
		"agent": "research", "name": "web_search",
		"input": map[string]interface{}{"query": truncate(query, 30)},
	})
	add(400*time.Millisecond, "tool_result", map[string]interface{}{
		"agent": "research", "name": "web_search", "output": "Found 5 relevant sources",
	})
	add(200*time.Millisecond, "tool_call", map[string]interface{}{
		"agent": "research", "name": "github_search",
		"input": map[string]interface{}{"topic": "AI agents"},
	})
	add(300*time.Millisecond, "tool_result", map[string]interface{}{
		"agent": "research", "name": "github_search", "output": "Found 12 repositories",
	})
	for _, chunk := range []string{
		"## Research Findings\n\n",
		"**Web Sources:** 5 papers analyzed\n",
		"**GitHub:** 12 repos reviewed\n\n",
		"Key frameworks: CrewAI, LangGraph, AutoGPT\n",
	} {
		add(100*time.Millisecond, "agent_output", map[string]interface{}{"agent": "research", "content": chunk})
	}
	add(0, "agent_complete", map[string]interface{}{"agent": "research", "duration": 2.3, "tokens": 487})
	add(0, "message", map[string]interface{}{
		"from": "research", "to": "synthesizer",
		"content": "Research complete: 5 sources, 12 repos",
	})

	// Explainer agent
	add(200*time.Millisecond, "agent_start", map[string]interface{}{"agent": "explainer"})
	add(0, "tool_call", map[string]interface{}{
		"agent": "explainer", "name": "context7_lookup",
		"input": map[string]interface{}{"topic": "AI agents"},
	})
	add(300*time.Millisecond, "tool_result", map[string]interface{}{
		"agent": "explainer", "name": "context7_lookup", "output": "Documentation retrieved",
	})
	for _, chunk := range []string{
		"## AI Agents Explained\n\n",
		"AI agents are systems that can perceive context,\n",
		"reason over it, and act through tools.\n",
	} {
		add(80*time.Millisecond, "agent_output", map[string]interface{}{"agent": "explainer", "content": chunk})
	}
	add(0, "agent_complete", map[string]interface{}{"agent": "explainer", "duration": 1.8, "tokens": 623})

	// Synthesis
	add(200*time.Millisecond, "agent_start", map[string]interface{}{"agent": "synthesizer"})
	add(0, "message", map[string]interface{}{
		"from": "synthesizer", "to": "user", "content": "Combining all responses...",
	})
	for _, chunk := range []string{
		"## Synthesis\n\n",
		"• Knowledge: 3 docs\n",
		"• Research: 5 web + 12 repos\n",
		"• Explainer: Technical breakdown\n",
	} {
		add(80*time.Millisecond, "agent_output", map[string]interface{}{"agent": "synthesizer", "content": chunk})
	}
	add(0, "agent_complete", map[string]interface{}{"agent": "synthesizer", "duration": 4.5, "tokens": 1266})
	add(0, "agent_complete", map[string]interface{}{"agent": "router", "duration": 0.5, "tokens": 120})

	// Final response
	answer := fmt.Sprintf(
		"# Response to: %s\n\nAI agents are autonomous systems using LLMs for reasoning and tools for action.",
		query,
	)
	add(100*time.Millisecond, "complete", map[string]interface{}{
		"answer": answer,
		"sources": []string{
			"https://docs.crewai.com",
			"https://langchain-ai.github.io/langgraph",
			"https://github.com/pydantic/pydantic-ai",
		},
		"agents_used": []string{"knowledge", "research", "explainer", "orchestrator"},
		"duration":    4.5,
	})

	return evts
}
