package llmgraph

import (
	"context"
	"errors"
	"sync"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// FakeModel is a scripted ToolCallingChatModel for tests. Each Generate call
// pops the next response; Err, when set, fails every call.
type FakeModel struct {
	mu        sync.Mutex
	Responses []*schema.Message
	Err       error
	Calls     [][]*schema.Message
	Tools     []*schema.ToolInfo
}

var _ einomodel.ToolCallingChatModel = (*FakeModel)(nil)

func (f *FakeModel) Generate(_ context.Context, input []*schema.Message, _ ...einomodel.Option) (*schema.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, input)
	if f.Err != nil {
		return nil, f.Err
	}
	if len(f.Responses) == 0 {
		return nil, errors.New("no fake response left")
	}
	msg := f.Responses[0]
	f.Responses = f.Responses[1:]
	return msg, nil
}

func (f *FakeModel) Stream(context.Context, []*schema.Message, ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("stream not implemented in fake model")
}

func (f *FakeModel) WithTools(tools []*schema.ToolInfo) (einomodel.ToolCallingChatModel, error) {
	f.mu.Lock()
	f.Tools = tools
	f.mu.Unlock()
	return f, nil
}

// CallCount reports how many Generate calls were made.
func (f *FakeModel) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Calls)
}
