package registry

import (
	"net/http"

	wmessage "github.com/ThreeDotsLabs/watermill/message"
	"github.com/mrlynn/netpad-v3-sub010/pkg/nodes"
	"github.com/mrlynn/netpad-v3-sub010/pkg/nodes/ai"
	"github.com/mrlynn/netpad-v3-sub010/pkg/nodes/conditional"
	"github.com/mrlynn/netpad-v3-sub010/pkg/nodes/dataquery"
	"github.com/mrlynn/netpad-v3-sub010/pkg/nodes/datawrite"
	"github.com/mrlynn/netpad-v3-sub010/pkg/nodes/delay"
	"github.com/mrlynn/netpad-v3-sub010/pkg/nodes/filter"
	"github.com/mrlynn/netpad-v3-sub010/pkg/nodes/httprequest"
	"github.com/mrlynn/netpad-v3-sub010/pkg/nodes/merge"
	"github.com/mrlynn/netpad-v3-sub010/pkg/nodes/message"
	"github.com/mrlynn/netpad-v3-sub010/pkg/nodes/transform"
	"github.com/mrlynn/netpad-v3-sub010/pkg/nodes/trigger"
	"github.com/mrlynn/netpad-v3-sub010/pkg/persistence"
)

// Dependencies are the external clients node kinds need. Nil values leave
// the corresponding kinds registered but failing terminally at run time.
type Dependencies struct {
	HTTPClient *http.Client
	Publisher  wmessage.Publisher
	Documents  persistence.DocumentStore
	Completer  ai.Completer
	AIModel    string
}

func defaultExecutors(deps Dependencies) []nodes.Executor {
	return []nodes.Executor{
		trigger.New(),
		conditional.New(),
		delay.New(),
		transform.New(),
		filter.New(),
		merge.New(),
		httprequest.New(deps.HTTPClient),
		message.New(deps.Publisher),
		dataquery.New(deps.Documents),
		datawrite.New(deps.Documents),
		ai.New(deps.Completer, deps.AIModel),
	}
}
