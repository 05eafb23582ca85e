package instrument

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	"github.com/pv/labacq-go/internal/config"
	"github.com/pv/labacq-go/internal/logger"
)

// OPCUA subscribes to a set of nodes on an OPC UA server and serves the
// latest published value per channel. ReadChannels never talks to the
// server directly; the subscription keeps the cache current.
type OPCUA struct {
	equipmentID string
	cfg         config.OPCUADriverConfig

	client *opcua.Client
	sub    *opcua.Subscription
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.RWMutex
	handleMap map[uint32]string // monitored-item handle -> channel id
	values    map[string]float64
	started   bool
}

func NewOPCUA(equipmentID string, cfg config.OPCUADriverConfig) (*OPCUA, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("opcua endpoint is required")
	}
	if len(cfg.Nodes) == 0 {
		return nil, fmt.Errorf("at least one opcua node must be configured")
	}
	if cfg.PublishInterval <= 0 {
		cfg.PublishInterval = 250 * time.Millisecond
	}

	return &OPCUA{
		equipmentID: equipmentID,
		cfg:         cfg,
		handleMap:   make(map[uint32]string),
		values:      make(map[string]float64),
	}, nil
}

// Start connects, subscribes and begins caching published values
func (o *OPCUA) Start() error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return fmt.Errorf("opcua driver already started")
	}
	o.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())

	client, err := opcua.NewClient(o.cfg.Endpoint,
		opcua.SecurityModeString("None"),
		opcua.SecurityPolicy("None"),
		opcua.AutoReconnect(true),
		opcua.AuthAnonymous(),
	)
	if err != nil {
		cancel()
		return fmt.Errorf("opcua new client: %w", err)
	}

	if err := client.Connect(ctx); err != nil {
		cancel()
		return fmt.Errorf("opcua connect: %w", err)
	}

	notifyCh := make(chan *opcua.PublishNotificationData, len(o.cfg.Nodes)*4)
	sub, err := client.Subscribe(ctx, &opcua.SubscriptionParameters{
		Interval: o.cfg.PublishInterval,
	}, notifyCh)
	if err != nil {
		cancel()
		_ = client.Close(ctx)
		return fmt.Errorf("opcua subscribe: %w", err)
	}

	handle := uint32(0)
	for channel, node := range o.cfg.Nodes {
		nodeID, err := ua.ParseNodeID(node)
		if err != nil {
			cancel()
			_ = sub.Cancel(ctx)
			_ = client.Close(ctx)
			return fmt.Errorf("parse node id %q: %w", node, err)
		}
		handle++
		req := opcua.NewMonitoredItemCreateRequestWithDefaults(nodeID, ua.AttributeIDValue, handle)
		res, err := sub.Monitor(ctx, ua.TimestampsToReturnBoth, req)
		if err != nil {
			cancel()
			_ = sub.Cancel(ctx)
			_ = client.Close(ctx)
			return fmt.Errorf("monitor node %q: %w", node, err)
		}
		if len(res.Results) == 0 || res.Results[0].StatusCode != ua.StatusOK {
			cancel()
			_ = sub.Cancel(ctx)
			_ = client.Close(ctx)
			return fmt.Errorf("monitor node %q rejected", node)
		}
		o.handleMap[handle] = channel
	}

	o.mu.Lock()
	o.client = client
	o.sub = sub
	o.cancel = cancel
	o.started = true
	o.mu.Unlock()

	o.wg.Add(1)
	go o.consume(ctx, notifyCh)
	return nil
}

func (o *OPCUA) consume(ctx context.Context, ch <-chan *opcua.PublishNotificationData) {
	defer o.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case notif := <-ch:
			if notif == nil {
				continue
			}
			if notif.Error != nil {
				logger.Warn("OPC UA notification failed", "equipment", o.equipmentID, "error", notif.Error)
				continue
			}
			o.processNotification(notif.Value)
		}
	}
}

func (o *OPCUA) processNotification(val interface{}) {
	data, ok := val.(*ua.DataChangeNotification)
	if !ok {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	for _, item := range data.MonitoredItems {
		channel, ok := o.handleMap[item.ClientHandle]
		if !ok {
			continue
		}
		fv, ok := variantToFloat(item.Value.Value)
		if !ok {
			continue
		}
		o.values[channel] = fv
	}
}

func (o *OPCUA) ReadChannels(ctx context.Context, channels []string) (map[string]float64, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if !o.started {
		return nil, &Error{Kind: KindConnectionLost, Equipment: o.equipmentID, Err: errors.New("driver not started")}
	}

	values := make(map[string]float64, len(channels))
	for _, ch := range channels {
		v, ok := o.values[ch]
		if !ok {
			if _, configured := o.cfg.Nodes[ch]; !configured {
				return nil, &Error{Kind: KindInvalidChannel, Equipment: o.equipmentID}
			}
			// configured but nothing published yet
			return nil, &Error{
				Kind:      KindTimeout,
				Equipment: o.equipmentID,
				Err:       fmt.Errorf("no value published for channel %s", ch),
			}
		}
		values[ch] = v
	}
	return values, nil
}

func (o *OPCUA) Close() error {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return nil
	}
	cancel := o.cancel
	sub := o.sub
	client := o.client
	o.started = false
	o.cancel = nil
	o.sub = nil
	o.client = nil
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	ctx, ctxCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer ctxCancel()

	var err error
	if sub != nil {
		if e := sub.Cancel(ctx); e != nil && !errors.Is(e, context.Canceled) {
			err = errors.Join(err, e)
		}
	}
	if client != nil {
		if e := client.Close(ctx); e != nil && !errors.Is(e, context.Canceled) {
			err = errors.Join(err, e)
		}
	}

	o.wg.Wait()
	return err
}

func variantToFloat(v *ua.Variant) (float64, bool) {
	if v == nil {
		return 0, false
	}

	switch val := v.Value().(type) {
	case float32:
		return float64(val), true
	case float64:
		return val, true
	case int8:
		return float64(val), true
	case uint8:
		return float64(val), true
	case int16:
		return float64(val), true
	case uint16:
		return float64(val), true
	case int32:
		return float64(val), true
	case uint32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint64:
		return float64(val), true
	default:
		return 0, false
	}
}

var _ Reader = (*OPCUA)(nil)
