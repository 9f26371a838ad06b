/**
 * @description
 * This file holds the user-facing message catalog. All copy is Brazilian
 * Portuguese, matching the bot's audience. Dynamic values come in through
 * the builder functions so the templates stay in one place.
 */
package app

import (
	"fmt"
	"time"

	"github.com/danfezap/danfe-service/internal/domain"
)

func welcomeMessage(freeLookups int) string {
	return fmt.Sprintf(`🚛 *Bot DANFE* - Bem-vindo!

Aqui você consulta o DANFE da nota fiscal rapidinho.

*Como usar:*
Manda a chave de 44 números da nota e eu te devolvo o PDF.

Você ganhou *%d consultas grátis* pra testar!

Manda a primeira chave aí 👇`, freeLookups)
}

const instructionsMessage = `📋 *Como usar o Bot DANFE:*

1️⃣ Manda a chave de 44 números da nota fiscal
2️⃣ Recebe o PDF do DANFE em segundos

*Comandos:*
- Digite *status* pra ver sua assinatura
- Digite *ajuda* pra ver essa mensagem`

const invalidKeyMessage = `❌ Chave inválida

Confere se digitou os 44 números certinho, sem espaços ou letras.

Exemplo de chave:
35250112345678000199550010001234561123456789`

const notYetAvailableMessage = `⏳ Chave tá certa, mas a nota ainda não apareceu no sistema.

Isso acontece quando a nota acabou de ser emitida.

Tenta de novo em 5-10 minutos!`

const lookupFailedMessage = `😕 Deu um erro na consulta. Tenta de novo em alguns segundos.

Se continuar dando erro, manda mensagem pra gente.`

const processingMessage = `⏳ Consultando a nota fiscal...

Aguarda uns segundinhos...`

const successMessage = `✅ DANFE encontrado!

Tá aí o PDF e o XML 👆`

const inactiveAccountMessage = `🚫 Sua conta está desativada.

Fala com a gente pra reativar.`

func quotaReachedMessage(limit int, expiresAt *time.Time) string {
	renewal := ""
	if expiresAt != nil {
		renewal = fmt.Sprintf("\n\nSua cota renova em %s.", expiresAt.Format("02/01/2006"))
	}
	return fmt.Sprintf(`📉 Você já usou as %d consultas do mês.%s`, limit, renewal)
}

func subscribeMessage(priceCents int64) string {
	return fmt.Sprintf(`⚠️ Suas consultas grátis acabaram!

Pra continuar usando, assina por apenas *R$ %s/mês*

Paga o Pix abaixo e já libera na hora 👇`, formatCents(priceCents))
}

func renewMessage(priceCents int64) string {
	return fmt.Sprintf(`⚠️ Sua assinatura venceu!

Pra continuar usando, renova por apenas *R$ %s/mês*

Paga o Pix abaixo e já libera na hora 👇`, formatCents(priceCents))
}

const chargeFailedMessage = `😕 Erro ao gerar pagamento. Tenta de novo em alguns minutos.`

func rateLimitedMessage(retryAfterSeconds int) string {
	return fmt.Sprintf(`🐢 Calma! Muitas consultas em sequência.

Tenta de novo em %d segundos.`, retryAfterSeconds)
}

func pixCodeCaption(qrCode string) string {
	return fmt.Sprintf("*Pix copia e cola:*\n\n`%s`", qrCode)
}

func statusMessage(user *domain.User, totalLookups int, now time.Time) string {
	var status, validity string
	switch {
	case user.SubscriptionActive(now):
		status = fmt.Sprintf("✅ Ativa (%d dias restantes)", user.DaysRemaining(now))
		validity = user.ExpiresAt.Format("02/01/2006 às 15:04")
	case user.IsSubscriber:
		status = "❌ Vencida"
		if user.ExpiresAt != nil {
			validity = user.ExpiresAt.Format("02/01/2006 às 15:04")
		} else {
			validity = "-"
		}
	default:
		status = fmt.Sprintf("🎁 Período de testes (%d consultas grátis restantes)", user.FreeCredits)
		validity = "-"
	}
	return fmt.Sprintf(`📊 *Sua assinatura:*

Status: %s
Válida até: %s
Consultas este mês: %d/%d
Consultas realizadas: %d`, status, validity, user.MonthlyUsed, user.MonthlyLimit, totalLookups)
}

func remainingMessage(user *domain.User) string {
	if !user.IsSubscriber {
		return fmt.Sprintf("Você ainda tem *%d consultas grátis*.", user.FreeCredits)
	}
	return fmt.Sprintf("Você ainda tem *%d consultas* este mês.", user.LookupsRemaining())
}

func formatCents(cents int64) string {
	return fmt.Sprintf("%d,%02d", cents/100, cents%100)
}
