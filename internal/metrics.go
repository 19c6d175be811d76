package internal

import "expvar"

var (
	publishedTotal = expvar.NewMap("repowatch_notifications_published_total")
	publishErrors  = expvar.NewMap("repowatch_publish_errors_total")
	deliveredTotal = expvar.NewMap("repowatch_notifications_delivered_total")
	deliveryErrors = expvar.NewMap("repowatch_delivery_errors_total")
)

func IncPublished(driver string) {
	publishedTotal.Add(driver, 1)
}

func IncPublishError(driver string) {
	publishErrors.Add(driver, 1)
}

func IncDelivered(kind string) {
	deliveredTotal.Add(kind, 1)
}

func IncDeliveryError(kind string) {
	deliveryErrors.Add(kind, 1)
}
