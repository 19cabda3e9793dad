package monitor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/synthread/go-an3155/flash"
)

// Monitor counts bootloader traffic from session events
type Monitor struct {
	log      logrus.FieldLogger
	registry *prometheus.Registry

	Commands       *prometheus.CounterVec
	Responses      *prometheus.CounterVec
	BytesSent      prometheus.Counter
	BytesReceived  prometheus.Counter
	PagesErased    prometheus.Counter
	ChunksWritten  prometheus.Counter
	ChunksVerified prometheus.Counter
	VerifyFailures prometheus.Counter
	FlashDuration  *prometheus.HistogramVec
}

func New(log logrus.FieldLogger) *Monitor {
	m := &Monitor{
		log:      log,
		registry: prometheus.NewRegistry(),

		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stm32_bootloader_commands_total",
			Help: "Bootloader commands sent",
		}, []string{"command"}),

		Responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stm32_bootloader_responses_total",
			Help: "ACK and NACK responses received",
		}, []string{"command", "response"}),

		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stm32_bootloader_bytes_sent_total",
			Help: "Bytes written to the serial line",
		}),

		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stm32_bootloader_bytes_received_total",
			Help: "Bytes read from the serial line",
		}),

		PagesErased: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stm32_flash_pages_erased_total",
			Help: "Flash pages erased by page erase commands",
		}),

		ChunksWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stm32_flash_chunks_written_total",
			Help: "Image chunks written",
		}),

		ChunksVerified: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stm32_flash_chunks_verified_total",
			Help: "Image chunks read back and verified",
		}),

		VerifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stm32_flash_verify_failures_total",
			Help: "Chunks whose read back did not match",
		}),

		FlashDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stm32_flash_duration_seconds",
			Help:    "Time taken to flash an image",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		m.Commands,
		m.Responses,
		m.BytesSent,
		m.BytesReceived,
		m.PagesErased,
		m.ChunksWritten,
		m.ChunksVerified,
		m.VerifyFailures,
		m.FlashDuration,
	)

	return m
}

// Hook returns a session hook feeding the counters
func (m *Monitor) Hook() flash.Hook {
	return func(e flash.Event) {
		switch e.Kind {
		case flash.EventCommand:
			m.Commands.WithLabelValues(e.Command.String()).Inc()
		case flash.EventAck:
			m.Responses.WithLabelValues(e.Command.String(), "ack").Inc()
		case flash.EventNack:
			m.Responses.WithLabelValues(e.Command.String(), "nack").Inc()
		case flash.EventTx:
			m.BytesSent.Add(float64(len(e.Bytes)))
		case flash.EventRx:
			m.BytesReceived.Add(float64(len(e.Bytes)))
		case flash.EventErasePlanned:
			m.PagesErased.Add(float64(e.Length))
		case flash.EventChunkWritten:
			m.ChunksWritten.Inc()
		case flash.EventChunkVerified:
			m.ChunksVerified.Inc()
		case flash.EventVerifyMismatch:
			m.VerifyFailures.Inc()
		}
	}
}

// ObserveFlash records how long a flash run took and whether it succeeded
func (m *Monitor) ObserveFlash(d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.FlashDuration.WithLabelValues(result).Observe(d.Seconds())
}

// Registry exposes the registry the metrics live in
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes the metrics for the node exporter textfile collector
func (m *Monitor) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return err
	}
	m.log.Debugf("metrics written to %s", path)
	return nil
}
