package events

import (
	"crypto/tls"
	"crypto/x509"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/sirupsen/logrus"
)

// KafkaAuth holds the optional SASL/PLAIN credentials and CA certificate
type KafkaAuth struct {
	Username string
	Password string
	CACert   string
}

func (a KafkaAuth) mechanism() sasl.Mechanism {
	if a.Username == "" || a.Password == "" {
		return nil
	}
	return plain.Mechanism{Username: a.Username, Password: a.Password}
}

// tlsConfig returns nil when neither SASL nor a CA certificate is configured.
// SASL always runs over TLS; without a CA the system pool is used.
func (a KafkaAuth) tlsConfig(log logrus.FieldLogger) *tls.Config {
	if a.mechanism() == nil && a.CACert == "" {
		return nil
	}
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if a.CACert != "" {
		pool := x509.NewCertPool()
		if pool.AppendCertsFromPEM([]byte(a.CACert)) {
			cfg.RootCAs = pool
		} else {
			log.Warn("kafka.ca_cert.unparsable: falling back to system certificates")
		}
	}
	return cfg
}

// CreateKafkaDialer builds the dialer used by readers
func CreateKafkaDialer(auth KafkaAuth, log logrus.FieldLogger) *kafka.Dialer {
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	if m := auth.mechanism(); m != nil {
		dialer.SASLMechanism = m
		log.WithField("username", auth.Username).Info("kafka.sasl.enabled")
	}
	dialer.TLS = auth.tlsConfig(log)
	return dialer
}

// CreateKafkaTransport builds the transport used by writers
func CreateKafkaTransport(auth KafkaAuth, log logrus.FieldLogger) *kafka.Transport {
	return &kafka.Transport{
		DialTimeout: 10 * time.Second,
		SASL:        auth.mechanism(),
		TLS:         auth.tlsConfig(log),
	}
}
