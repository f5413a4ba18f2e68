package support

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/randalmurphal/triage/pkg/flowgraph"
	"github.com/randalmurphal/triage/pkg/flowgraph/checkpoint"
)

func newAssistant(t *testing.T, f *fixture, opts ...Option) *Assistant {
	t.Helper()
	a, err := New(f.deps(), append([]Option{WithLogger(quietLogger())}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestNew_RequiresCapabilities(t *testing.T) {
	_, err := New(Deps{})
	require.Error(t, err)
	for _, want := range []string{"classifier", "generator", "judge", "ticket store"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestWorkflow_Topology(t *testing.T) {
	a := newAssistant(t, newFixture())

	fork := a.workflow.GetForkNode(flowgraph.START)
	require.NotNil(t, fork)
	assert.ElementsMatch(t, []string{NodeSentiment, NodeTopic, NodePriority}, fork.Branches)
	assert.Equal(t, NodeGate, fork.JoinNodeID)
	assert.True(t, a.workflow.IsConditional(NodeGate))
	assert.Equal(t, map[string]string{RouteValid: NodeAnswer, RouteInvalid: NodeTicket},
		a.workflow.ConditionalTargets(NodeGate))
}

// Scenario: a valid topic is answered from documentation.
func TestInvoke_AnsweredFromDocs(t *testing.T) {
	f := newFixture()
	a := newAssistant(t, f)

	got := a.Invoke(context.Background(), "How do I set up SSO?", "thread-1")

	assert.Equal(t, "How do I set up SSO?", got.Message)
	assert.Equal(t, TopicSSO, got.Topic.Or(""))
	assert.Equal(t, SentimentCurious, got.Sentiment.Or(""))
	assert.Equal(t, PriorityP1, got.Priority.Or(""))
	require.NotNil(t, got.IsTopicValid)
	assert.True(t, *got.IsTopicValid)
	assert.Equal(t, "Open Admin > SSO and add your IdP.", got.Answer)
	assert.Len(t, got.Docs, 2)
	require.NotNil(t, got.NeedsTicketOffer)
	assert.False(t, *got.NeedsTicketOffer)
	assert.False(t, got.HasTicket())
	assert.Empty(t, got.TicketMessage)
	assert.Zero(t, f.tickets.count())
}

// Scenario: an unclear topic files a ticket.
func TestInvoke_InvalidTopicFilesTicket(t *testing.T) {
	f := newFixture()
	f.classifier = newClassifier("unclear", "Neutral", "P2")
	a := newAssistant(t, f)

	got := a.Invoke(context.Background(), "asdkjh garbage", "thread-2")

	assert.False(t, *got.IsTopicValid)
	assert.True(t, got.HasTicket())
	assert.Contains(t, got.TicketMessage, "TICKET-1")
	assert.Equal(t, "unclear", got.TicketTopic)
	assert.Empty(t, got.Answer)
	assert.Nil(t, got.Docs)
	assert.Zero(t, f.retriever.calls.Load())
	assert.Zero(t, f.generator.answerCalls.Load())
}

// Scenario: the answer was offered, then an explicit ticket request fails.
func TestCreateTicketForThread_StoreFailure(t *testing.T) {
	f := newFixture()
	a := newAssistant(t, f)

	first := a.Invoke(context.Background(), "How do I set up SSO?", "thread-3")
	require.NotEmpty(t, first.Answer)

	f.tickets.fail(errBoom)
	got, err := a.CreateTicketForThread(context.Background(), "thread-3")
	require.NoError(t, err)

	assert.Equal(t, TicketFailure, got.Answer)
	assert.Empty(t, got.TicketID)
	assert.False(t, got.HasTicket())
}

// Scenario: an empty message short-circuits the answer stage.
func TestInvoke_EmptyMessage(t *testing.T) {
	f := newFixture()
	f.classifier = newClassifier("SSO", "Neutral", "P2")
	a := newAssistant(t, f)

	got := a.Invoke(context.Background(), "", "")

	assert.Zero(t, f.classifier.calls.Load())
	assert.Nil(t, got.Topic)
	assert.False(t, *got.IsTopicValid)
	assert.True(t, got.HasTicket())
	assert.Equal(t, DefaultQuery, got.TicketQuery)

	direct := (&Answerer{Generator: f.generator, Judge: f.judge, Retriever: f.retriever}).
		Answer(context.Background(), quietLogger(), "")
	assert.Equal(t, State{Answer: NoMessageAnswer}, direct)
	assert.Zero(t, f.retriever.calls.Load())
}

func TestInvoke_EmptyMessageOnThread(t *testing.T) {
	f := newFixture()
	a := newAssistant(t, f)

	first := a.Invoke(context.Background(), "How do I set up SSO?", "thread-empty")
	require.Equal(t, "Open Admin > SSO and add your IdP.", first.Answer)
	require.EqualValues(t, 1, f.generator.answerCalls.Load())
	classifierCalls := f.classifier.calls.Load()

	got := a.Invoke(context.Background(), "", "thread-empty")

	assert.Empty(t, got.Message, "the new turn's message replaces the saved one")
	assert.Equal(t, NoMessageAnswer, got.Answer)
	assert.EqualValues(t, 1, f.generator.answerCalls.Load(), "the previous question is not answered again")
	assert.Equal(t, classifierCalls, f.classifier.calls.Load())

	saved, err := a.Snapshot("thread-empty")
	require.NoError(t, err)
	assert.Empty(t, saved.Message)
}

func TestInvoke_GateWaitsForAllClassifiers(t *testing.T) {
	f := newFixture()
	f.classifier.delays = map[string]time.Duration{
		"sentiment": 30 * time.Millisecond,
		"topic":     60 * time.Millisecond,
		"priority":  10 * time.Millisecond,
	}
	var doneAtRetrieval int32
	f.retriever.onCall = func() { doneAtRetrieval = f.classifier.done.Load() }
	a := newAssistant(t, f)

	got := a.Invoke(context.Background(), "How do I set up SSO?", "")

	assert.Equal(t, int32(3), doneAtRetrieval)
	assert.True(t, *got.IsTopicValid, "gate saw the slowest classifier's topic")
	assert.NotNil(t, got.Sentiment)
	assert.NotNil(t, got.Priority)
}

func TestInvoke_RoutingIsExclusive(t *testing.T) {
	for _, topic := range Topics {
		t.Run(string(topic), func(t *testing.T) {
			f := newFixture()
			f.classifier = newClassifier(string(topic), "Neutral", "P2")
			a := newAssistant(t, f)

			got := a.Invoke(context.Background(), "some question", "")

			if IsAnswerable(topic) {
				assert.NotEmpty(t, got.Answer)
				assert.NotNil(t, got.Docs)
				assert.False(t, got.HasTicket())
			} else {
				assert.True(t, got.HasTicket())
				assert.Empty(t, got.Answer)
				assert.Nil(t, got.Docs)
			}
		})
	}
}

func TestInvoke_ClassifierFailuresAreAbsorbed(t *testing.T) {
	f := newFixture()
	f.classifier.errs = map[string]error{"sentiment": errBoom, "topic": errBoom, "priority": errBoom}
	a := newAssistant(t, f)

	got := a.Invoke(context.Background(), "How do I set up SSO?", "")

	assert.Nil(t, got.Topic)
	assert.Nil(t, got.Sentiment)
	assert.Nil(t, got.Priority)
	assert.False(t, *got.IsTopicValid)
	assert.Equal(t, DefaultTopic, got.TicketTopic)
	assert.Equal(t, DefaultSentiment, got.TicketSentiment)
	assert.Equal(t, DefaultPriority, got.TicketPriority)
}

type panickingClassifier struct{}

func (panickingClassifier) Classify(context.Context, string, []string) (string, error) {
	panic("classifier exploded")
}

func TestInvoke_UnexpectedFailure(t *testing.T) {
	f := newFixture()
	deps := f.deps()
	deps.Classifier = panickingClassifier{}
	a, err := New(deps, WithLogger(quietLogger()))
	require.NoError(t, err)

	got := a.Invoke(context.Background(), "How do I set up SSO?", "thread-x")
	assert.Equal(t, State{Answer: InternalErrorMessage}, got)
}

func TestInvoke_LLMTimeoutIsEnforced(t *testing.T) {
	f := newFixture()
	deps := f.deps()
	deps.Classifier = stubbornClassifier{delay: 800 * time.Millisecond}
	a, err := New(deps, WithLogger(quietLogger()), WithTimeouts(Timeouts{LLM: 20 * time.Millisecond}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	start := time.Now()
	got := a.Invoke(context.Background(), "How do I set up SSO?", "")

	assert.Less(t, time.Since(start), 400*time.Millisecond)
	assert.Nil(t, got.Topic, "late classification counts as failure")
	assert.False(t, *got.IsTopicValid)
	assert.True(t, got.HasTicket())
}

func TestInvoke_CancelledContext(t *testing.T) {
	a := newAssistant(t, newFixture())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got := a.Invoke(ctx, "How do I set up SSO?", "")
	assert.Equal(t, InternalErrorMessage, got.Answer)
}

func TestInvoke_ContinuesThread(t *testing.T) {
	f := newFixture()
	f.judge.verdict = Escalation{Escalate: true, Explanation: "not fully solved"}
	a := newAssistant(t, f)

	first := a.Invoke(context.Background(), "How do I set up SSO?", "conv")
	require.True(t, *first.NeedsTicketOffer)

	snap, err := a.Snapshot("conv")
	require.NoError(t, err)
	assert.Equal(t, first.Answer, snap.Answer)

	ticketed, err := a.CreateTicketForThread(context.Background(), "conv")
	require.NoError(t, err)
	assert.True(t, ticketed.HasTicket())
	assert.Equal(t, first.Answer, ticketed.Answer, "answer and ticket coexist across calls")
	assert.Equal(t, "SSO", ticketed.TicketTopic)
	assert.Equal(t, "How do I set up SSO?", ticketed.TicketQuery)

	second := a.Invoke(context.Background(), "What is a glossary?", "conv")
	assert.Equal(t, "What is a glossary?", second.Message)
	assert.Equal(t, ticketed.TicketID, second.TicketID, "earlier ticket survives the next turn")

	history, err := a.History("conv")
	require.NoError(t, err)
	var nodes []string
	for _, info := range history {
		nodes = append(nodes, info.NodeID)
	}
	assert.Equal(t, NodeAnswer, nodes[len(nodes)-1])
	assert.Contains(t, nodes, NodeTicket)

	threads, err := a.Threads()
	require.NoError(t, err)
	assert.Equal(t, []string{"conv"}, threads)
}

// Scenario: the process died after the gate; the turn is finished later.
func TestResume_FinishesInterruptedTurn(t *testing.T) {
	f := newFixture()
	store := checkpoint.NewMemoryStore()
	deps := f.deps()
	deps.Checkpoints = store
	a, err := New(deps, WithLogger(quietLogger()))
	require.NoError(t, err)

	gated := State{
		Message:      "How do I set up SSO?",
		Topic:        Label(TopicSSO),
		Sentiment:    Label(SentimentCurious),
		Priority:     Label(PriorityP1),
		IsTopicValid: boolPtr(true),
	}
	data, err := json.Marshal(gated)
	require.NoError(t, err)
	cp, err := checkpoint.New("crashed", NodeGate, 2, data, NodeAnswer).Marshal()
	require.NoError(t, err)
	require.NoError(t, store.Save("crashed", NodeGate, cp))

	got, err := a.Resume(context.Background(), "crashed")
	require.NoError(t, err)

	assert.Equal(t, "Open Admin > SSO and add your IdP.", got.Answer)
	assert.Len(t, got.Docs, 2)
	assert.Zero(t, f.classifier.calls.Load(), "classifiers already ran before the crash")
	assert.EqualValues(t, 1, f.generator.answerCalls.Load())

	latest, err := checkpoint.Latest(store, "crashed")
	require.NoError(t, err)
	assert.Equal(t, flowgraph.END, latest.NextNode)
	assert.Equal(t, 3, latest.Sequence)

	again, err := a.Resume(context.Background(), "crashed")
	require.NoError(t, err)
	assert.Equal(t, got.Answer, again.Answer)
	assert.EqualValues(t, 1, f.generator.answerCalls.Load(), "a completed turn is not re-run")

	_, err = a.Resume(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnknownThread)
	_, err = a.Resume(context.Background(), "")
	assert.ErrorIs(t, err, flowgraph.ErrThreadIDRequired)
}

func TestInvoke_ThreadsAreIsolated(t *testing.T) {
	f := newFixture()
	store := checkpoint.NewMemoryStore()
	deps := f.deps()
	deps.Checkpoints = store
	a, err := New(deps, WithLogger(quietLogger()))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, thread := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got := a.Invoke(context.Background(), "question from "+thread, thread)
			assert.Equal(t, "question from "+thread, got.Message)
		}()
	}
	wg.Wait()

	for _, thread := range []string{"a", "b", "c", "d"} {
		snap, err := a.Snapshot(thread)
		require.NoError(t, err)
		assert.Equal(t, "question from "+thread, snap.Message)
	}
}

func TestCreateTicket_Direct(t *testing.T) {
	f := newFixture()
	a := newAssistant(t, f)
	s := State{Message: "Connector keeps failing", Topic: Label(TopicConnector), Answer: "try again"}

	got := a.CreateTicket(context.Background(), s)
	assert.True(t, got.HasTicket())
	assert.Equal(t, "Connector", got.TicketTopic)
	assert.Equal(t, "try again", got.Answer)
	assert.Equal(t, s.Message, got.Message)

	f.tickets.fail(errBoom)
	failed := a.CreateTicket(context.Background(), s)
	assert.Equal(t, TicketFailure, failed.Answer)
	assert.False(t, failed.HasTicket())
}

func TestCreateTicketForThread_Errors(t *testing.T) {
	a := newAssistant(t, newFixture())

	_, err := a.CreateTicketForThread(context.Background(), "")
	assert.ErrorIs(t, err, flowgraph.ErrThreadIDRequired)

	_, err = a.CreateTicketForThread(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnknownThread)
}

func TestAssistant_Metrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	f := newFixture()
	f.classifier.errs = map[string]error{"priority": errBoom}
	f.judge.verdict = Escalation{Escalate: true}
	a := newAssistant(t, f, WithMeterProvider(provider))

	a.Invoke(context.Background(), "How do I set up SSO?", "")
	a.CreateTicket(context.Background(), State{Message: "q"})

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	assert.Equal(t, int64(3), counterSum(rm, "triage.classifications", ""))
	assert.Equal(t, int64(1), counterSum(rm, "triage.classifications", outcomeFailed))
	assert.Equal(t, int64(1), counterSum(rm, "triage.answers", outcomeOK))
	assert.Equal(t, int64(1), counterSum(rm, "triage.escalations", ""))
	assert.Equal(t, int64(1), counterSum(rm, "triage.tickets", outcomeOK))
}

// counterSum adds an int64 counter's data points, optionally only those
// with the given outcome attribute.
func counterSum(rm metricdata.ResourceMetrics, name, outcome string) int64 {
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				if outcome != "" {
					v, ok := dp.Attributes.Value("outcome")
					if !ok || v.AsString() != outcome {
						continue
					}
				}
				total += dp.Value
			}
		}
	}
	return total
}
