/*
Package monitoring exports kernel, memory, DTU and HTTP metrics to
Prometheus.

Metrics implements kernel.Metrics and dtu.Observer, so a single value is
handed to both:

	metrics := monitoring.NewMetrics()
	k, err := kernel.New(cfg, mm,
		kernel.WithMetrics(metrics),
		kernel.WithTransferObserver(metrics),
	)

	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

All collectors live on a private registry; the process-wide default
registry is never touched.
*/
package monitoring
